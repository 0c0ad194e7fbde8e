// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/commandfeed/services/commandfeed/agentmap"
	"github.com/AleutianAI/commandfeed/services/commandfeed/applicability"
	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/lifecycle"
	"github.com/AleutianAI/commandfeed/services/commandfeed/storage/badgerstore"
)

type fixedMaps struct {
	m *agentmap.Map
}

func (f fixedMaps) Get() *agentmap.Map { return f.m }

func newTestRouter(t *testing.T) (*gin.Engine, *lifecycle.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	snapshot := agentmap.NewMap(1,
		[]datatypes.DataAgentInfo{{AgentID: "agent-1"}},
		[]datatypes.AssetGroupInfo{{
			AssetGroupID:            "ag-1",
			AgentID:                 "agent-1",
			AssetGroupQualifier:     "AssetType=API;Host=browse",
			SupportedDataTypes:      []string{"Browse"},
			SupportedSubjectTypes:   []datatypes.SubjectType{datatypes.SubjectTypeMsa},
			SupportedCommandTypes:   []datatypes.CommandType{datatypes.CommandTypeDelete},
			SupportedCloudInstances: []datatypes.CloudInstance{datatypes.CloudInstancePublic},
		}})

	cfg := lifecycle.DefaultConfig()
	cfg.SigningKey = []byte("handler-test-key")
	svc := lifecycle.NewService(store, fixedMaps{m: snapshot},
		applicability.NewEvaluator(applicability.DefaultCloudConfig()), cfg, nil, nil)

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/pcf/v1")
	commands := v1.Group("/commands")
	commands.POST("", IngestCommand(svc, nil))
	commands.POST("/:commandId/forcecomplete", ForceComplete(svc))
	commands.GET("/:commandId/status", CommandStatus(svc))
	agent := v1.Group("/:agentId")
	agent.POST("/checkpoint", Checkpoint(svc, nil))
	agent.POST("/checkpoint/complete", BulkCheckpoint(svc, nil))
	agent.POST("/querycommand", QueryCommand(svc))
	agent.POST("/queuestats", QueueStats(svc, nil))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// receiptFor ingests a delete command through the service layer so the
// test can hold the initial lease receipt, which the ingestion endpoint
// deliberately keeps off the wire.
func receiptFor(t *testing.T, svc *lifecycle.Service, id string) string {
	t.Helper()
	result, err := svc.Ingest(context.Background(), &datatypes.DeleteCommand{
		CommandHeader: datatypes.CommandHeader{
			CommandID: id,
			Subject:   &datatypes.MsaSubject{Puid: 42},
		},
		PrivacyDataType:    "Browse",
		TimeRangePredicate: datatypes.TimeRangePredicate{EndTime: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	for _, d := range result.Dispositions {
		if d.Applicable {
			return d.LeaseReceipt
		}
	}
	t.Fatal("no applicable disposition")
	return ""
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCheckpointEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	receipt := receiptFor(t, svc, "cmd-http-1")

	t.Run("pending returns a fresh receipt", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/checkpoint", datatypes.CheckpointRequest{
			Status:       "pending",
			CommandID:    "cmd-http-1",
			LeaseReceipt: receipt,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp datatypes.CheckpointResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.LeaseReceipt == "" || resp.LeaseReceipt == receipt {
			t.Fatalf("expected a superseding receipt")
		}
	})

	t.Run("superseded receipt conflicts", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/checkpoint", datatypes.CheckpointRequest{
			Status:       "complete",
			CommandID:    "cmd-http-1",
			LeaseReceipt: receipt,
		})
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("wrong agent forbidden", func(t *testing.T) {
		other := receiptFor(t, svc, "cmd-http-2")
		w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-other/checkpoint", datatypes.CheckpointRequest{
			Status:       "pending",
			CommandID:    "cmd-http-2",
			LeaseReceipt: other,
		})
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/checkpoint", map[string]any{"status": "pending"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestQueryCommandEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	receipt := receiptFor(t, svc, "cmd-http-q")

	w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/querycommand",
		datatypes.QueryCommandRequest{LeaseReceipt: receipt})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Command map[string]any `json:"command"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Command["type"] != "delete" {
		t.Fatalf("expected delete command, got %v", resp.Command["type"])
	}
	if resp.Command["privacyDataType"] != "Browse" {
		t.Fatalf("expected Browse data type, got %v", resp.Command["privacyDataType"])
	}
}

func TestBulkCheckpointEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	good := receiptFor(t, svc, "cmd-http-bulk")

	w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/checkpoint/complete", datatypes.BulkCheckpointRequest{
		Items: []datatypes.BulkCheckpointItem{
			{ID: "cmd-http-bulk", LeaseReceipt: good, RowCount: 7},
			{ID: "cmd-http-missing", LeaseReceipt: "garbage"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp datatypes.BulkCheckpointResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].ID != "cmd-http-bulk" || resp.Results[0].Error != "" {
		t.Fatalf("first item should succeed: %+v", resp.Results[0])
	}
	if resp.Results[1].ID != "cmd-http-missing" || resp.Results[1].Error == "" {
		t.Fatalf("second item should fail: %+v", resp.Results[1])
	}
}

func TestForceCompleteAndStatusEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)
	receiptFor(t, svc, "cmd-http-force")

	w := doJSON(t, router, http.MethodPost, "/pcf/v1/commands/cmd-http-force/forcecomplete",
		map[string]string{"agentId": "agent-1", "assetGroupId": "ag-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/pcf/v1/commands/cmd-http-force/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status datatypes.CommandStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !status.IsGloballyComplete {
		t.Fatal("expected command to be globally complete after force complete")
	}

	t.Run("unknown command yields 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/pcf/v1/commands/cmd-nope/status", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}

func TestIngestEndpointRejectsUnknownType(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/pcf/v1/commands", []byte(`{"type":"obliterate","commandId":"x"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAgentRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewAgentRateLimiter(1, 2)
	router := gin.New()
	router.GET("/pcf/v1/:agentId/ping", limiter.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/pcf/v1/agent-1/ping", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst should pass: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst: %v", codes)
	}

	t.Run("agents are limited independently", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/pcf/v1/agent-2/ping", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for a different agent, got %d", w.Code)
		}
	})
}

func TestQueueStatsEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	receiptFor(t, svc, "cmd-http-stats")

	w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/queuestats", datatypes.QueueStatsRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp datatypes.QueueStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.TotalPending != 1 {
		t.Fatalf("expected 1 pending, got %d", resp.TotalPending)
	}

	t.Run("bad command type rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/pcf/v1/agent-1/queuestats",
			map[string]string{"commandType": "obliterate"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})
}
