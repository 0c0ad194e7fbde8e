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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/commandfeed/services/commandfeed/agentmap"
	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/lifecycle"
	"github.com/AleutianAI/commandfeed/services/commandfeed/observability"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestCommand handles POST /pcf/v1/commands. The body is a command in its
// discriminated JSON form.
func IngestCommand(svc *lifecycle.Service, metrics *observability.LifecycleMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		cmd, err := datatypes.UnmarshalCommand(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := svc.Ingest(c.Request.Context(), cmd)
		if err != nil {
			writeError(c, err)
			return
		}
		if metrics != nil {
			metrics.RecordIngestion(string(cmd.Kind()), result.RosterSize)
		}
		c.JSON(http.StatusCreated, result)
	}
}

// forceCompleteRequest names the roster entry an operator wants terminated.
type forceCompleteRequest struct {
	AgentID      string `json:"agentId"`
	AssetGroupID string `json:"assetGroupId" binding:"required"`
}

// ForceComplete handles POST /pcf/v1/commands/:commandId/forcecomplete.
func ForceComplete(svc *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		commandID := c.Param("commandId")
		var req forceCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid force complete request: " + err.Error()})
			return
		}

		slog.Warn("force complete requested",
			"command_id", commandID,
			"agent_id", req.AgentID,
			"asset_group_id", req.AssetGroupID)
		if err := svc.ForceComplete(c.Request.Context(), commandID, req.AgentID, req.AssetGroupID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "forceCompleted", "commandId": commandID})
	}
}

// CommandStatus handles GET /pcf/v1/commands/:commandId/status.
func CommandStatus(svc *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := svc.CommandStatus(c.Request.Context(), c.Param("commandId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// AgentMapVersion handles GET /pcf/v1/agentmap/version.
func AgentMapVersion(factory *agentmap.Factory) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := factory.Get()
		if snapshot == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent map not initialized"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"version":     snapshot.Version(),
			"agents":      snapshot.AgentCount(),
			"assetGroups": snapshot.AssetGroupCount(),
		})
	}
}
