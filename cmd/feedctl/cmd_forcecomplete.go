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
	"net/http"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	forceAgentID      string // Owning agent, checked against the roster entry
	forceAssetGroupID string // Roster entry to terminate
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// forceCompleteCmd terminates one roster entry by operator override. The
// override is idempotent and keeps the entry's last natural status visible.
//
// # Examples
//
//	feedctl force-complete cmd-1234 --agent agent-1 --asset-group ag-1
var forceCompleteCmd = &cobra.Command{
	Use:   "force-complete <commandId>",
	Short: "Terminate one (command, asset group) pair by operator override",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callService(http.MethodPost, "/pcf/v1/commands/"+args[0]+"/forcecomplete",
			map[string]string{
				"agentId":      forceAgentID,
				"assetGroupId": forceAssetGroupID,
			})
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	forceCompleteCmd.Flags().StringVar(&forceAgentID, "agent", "",
		"Agent id owning the asset group (optional safety check)")
	forceCompleteCmd.Flags().StringVar(&forceAssetGroupID, "asset-group", "",
		"Asset group id to terminate")
	_ = forceCompleteCmd.MarkFlagRequired("asset-group")
}
