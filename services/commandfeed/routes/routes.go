// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/commandfeed/services/commandfeed/agentmap"
	"github.com/AleutianAI/commandfeed/services/commandfeed/handlers"
	"github.com/AleutianAI/commandfeed/services/commandfeed/lifecycle"
	"github.com/AleutianAI/commandfeed/services/commandfeed/observability"
)

func SetupRoutes(router *gin.Engine, svc *lifecycle.Service, maps *agentmap.Factory,
	metrics *observability.LifecycleMetrics, limiter *handlers.AgentRateLimiter) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/pcf/v1")
	{
		// Operator surface
		commands := v1.Group("/commands")
		{
			commands.POST("", handlers.IngestCommand(svc, metrics))
			commands.POST("/:commandId/forcecomplete", handlers.ForceComplete(svc))
			commands.GET("/:commandId/status", handlers.CommandStatus(svc))
		}
		v1.GET("/agentmap/version", handlers.AgentMapVersion(maps))

		// Agent surface, rate limited per agent id
		agent := v1.Group("/:agentId", limiter.Middleware())
		{
			agent.POST("/checkpoint", handlers.Checkpoint(svc, metrics))
			agent.POST("/checkpoint/complete", handlers.BulkCheckpoint(svc, metrics))
			agent.POST("/querycommand", handlers.QueryCommand(svc))
			agent.POST("/queuestats", handlers.QueueStats(svc, metrics))
		}
	}
}
