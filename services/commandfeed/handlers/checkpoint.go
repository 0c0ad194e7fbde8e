// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the command feed.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/lifecycle"
	"github.com/AleutianAI/commandfeed/services/commandfeed/observability"
)

// statusForCode maps lifecycle rejection codes onto HTTP statuses.
func statusForCode(code lifecycle.ErrorCode) int {
	switch code {
	case lifecycle.CodeCommandNotFound:
		return http.StatusNotFound
	case lifecycle.CodeLeaseConflict, lifecycle.CodeAlreadyCompleted:
		return http.StatusConflict
	case lifecycle.CodeLeaseExpired:
		return http.StatusUnauthorized
	case lifecycle.CodeAgentMismatch:
		return http.StatusForbidden
	case lifecycle.CodeCommandExpired:
		return http.StatusGone
	case lifecycle.CodeMapUnavailable:
		return http.StatusServiceUnavailable
	case lifecycle.CodeMalformedReceipt, lifecycle.CodeCommandMismatch,
		lifecycle.CodeInvalidStatus, lifecycle.CodeInvalidVariants,
		lifecycle.CodeAgentStateTooLarge, lifecycle.CodeInvalidLeaseExtension,
		lifecycle.CodeInvalidCommand:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a lifecycle error (or a generic 500) as the JSON error
// envelope agents consume.
func writeError(c *gin.Context, err error) {
	code := lifecycle.CodeOf(err)
	if code == "" {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusForCode(code), gin.H{"error": err.Error(), "code": string(code)})
}

// Checkpoint handles POST /pcf/v1/:agentId/checkpoint.
func Checkpoint(svc *lifecycle.Service, metrics *observability.LifecycleMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agentId")
		var req datatypes.CheckpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkpoint request: " + err.Error()})
			return
		}
		if err := datatypes.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		resp, err := svc.Checkpoint(c.Request.Context(), agentID, &req)
		if err != nil {
			if metrics != nil {
				metrics.RecordCheckpointError(string(lifecycle.CodeOf(err)))
			}
			writeError(c, err)
			return
		}
		if metrics != nil {
			metrics.RecordCheckpoint(req.Status, agentID, time.Since(start).Seconds())
		}
		c.JSON(http.StatusOK, resp)
	}
}

// BulkCheckpoint handles POST /pcf/v1/:agentId/checkpoint/complete. Items
// succeed or fail independently, so the call itself always returns 200 with
// per-item results.
func BulkCheckpoint(svc *lifecycle.Service, metrics *observability.LifecycleMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agentId")
		var req datatypes.BulkCheckpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk checkpoint request: " + err.Error()})
			return
		}
		if err := datatypes.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		resp := svc.BulkCheckpoint(c.Request.Context(), agentID, &req)
		if metrics != nil {
			metrics.RecordCheckpoint(string(datatypes.StatusComplete), agentID, time.Since(start).Seconds())
		}
		c.JSON(http.StatusOK, resp)
	}
}

// QueryCommand handles POST /pcf/v1/:agentId/querycommand.
func QueryCommand(svc *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agentId")
		var req datatypes.QueryCommandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query request: " + err.Error()})
			return
		}
		if err := datatypes.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cmd, err := svc.QueryCommand(c.Request.Context(), agentID, req.LeaseReceipt)
		if err != nil {
			writeError(c, err)
			return
		}
		raw, err := datatypes.MarshalCommand(cmd)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", wrapCommand(raw))
	}
}

// wrapCommand embeds the discriminated command JSON under the "command" key
// without re-decoding it.
func wrapCommand(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+16)
	out = append(out, `{"command":`...)
	out = append(out, raw...)
	out = append(out, '}')
	return out
}

// QueueStats handles POST /pcf/v1/:agentId/queuestats.
func QueueStats(svc *lifecycle.Service, metrics *observability.LifecycleMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueueStatsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue stats request: " + err.Error()})
			return
		}
		if err := datatypes.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := svc.QueueStats(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		if metrics != nil {
			for _, stat := range resp.QueueStats {
				metrics.SetQueuePending(stat.AssetGroupID, stat.PendingCommandCount)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
