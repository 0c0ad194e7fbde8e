// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/commandfeed/pkg/retry"
	"github.com/AleutianAI/commandfeed/services/commandfeed/agentmap"
	"github.com/AleutianAI/commandfeed/services/commandfeed/applicability"
	"github.com/AleutianAI/commandfeed/services/commandfeed/handlers"
	"github.com/AleutianAI/commandfeed/services/commandfeed/history"
	"github.com/AleutianAI/commandfeed/services/commandfeed/lifecycle"
	"github.com/AleutianAI/commandfeed/services/commandfeed/observability"
	"github.com/AleutianAI/commandfeed/services/commandfeed/routes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/storage/badgerstore"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// Tracing is optional; run without it when no collector is configured.
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("commandfeed-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := envOr("COMMANDFEED_PORT", "12310")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	// --- Command history store ---
	storeCfg := badgerstore.DefaultConfig()
	storeCfg.Path = envOr("COMMANDFEED_DATA_DIR", "/var/lib/commandfeed/history")
	storeCfg.Logger = logger
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the command history store: %v", err)
	}
	defer store.Close()

	retries := retry.NewManager(retry.ExponentialBackoff(3, 100*time.Millisecond, 5*time.Second, 200*time.Millisecond), nil).
		WithLogger(logger)

	// --- Agent map ---
	feedPath := envOr("COMMANDFEED_AGENTMAP_FILE", "/etc/commandfeed/agentmap.yaml")
	factory := agentmap.NewFactory(&agentmap.FileLoader{Path: feedPath},
		agentmap.WithRetry(retries),
		agentmap.WithLogger(logger),
		agentmap.WithFileWatch(feedPath),
		agentmap.WithSwapObserver(func(m *agentmap.Map) {
			metrics.RecordMapRefresh(true, m.Version())
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := factory.Initialize(ctx); err != nil {
		log.Fatalf("FATAL: could not load the agent map from %s: %v", feedPath, err)
	}
	go factory.Refresh(ctx)
	defer factory.Stop()

	// --- Lifecycle service ---
	signingKey := os.Getenv("COMMANDFEED_LEASE_SIGNING_KEY")
	if signingKey == "" {
		log.Fatalf("FATAL: COMMANDFEED_LEASE_SIGNING_KEY must be set")
	}
	lifecycleCfg := lifecycle.DefaultConfig()
	lifecycleCfg.SigningKey = []byte(signingKey)
	svc := lifecycle.NewService(store, factory,
		applicability.NewEvaluator(applicability.DefaultCloudConfig()),
		lifecycleCfg, logger, retries)

	// --- Completion sweeper ---
	sweeper := history.NewSweeper(store, logger, retries, 30*time.Second)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	// --- Rate limiting ---
	rps, _ := strconv.ParseFloat(envOr("COMMANDFEED_AGENT_RPS", "50"), 64)
	burst, _ := strconv.Atoi(envOr("COMMANDFEED_AGENT_BURST", "100"))
	limiter := handlers.NewAgentRateLimiter(rps, burst)

	router := gin.Default()
	router.Use(otelgin.Middleware("commandfeed-service"))

	routes.SetupRoutes(router, svc, factory, metrics, limiter)

	log.Println("Starting the command feed server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
