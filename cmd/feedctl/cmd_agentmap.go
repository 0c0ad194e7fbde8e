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
// COMMAND DEFINITION
// =============================================================================

var agentMapCmd = &cobra.Command{
	Use:   "agentmap",
	Short: "Inspect the served agent map",
}

// agentMapVersionCmd prints the version and size of the snapshot the
// service is currently serving.
var agentMapVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the currently served agent map version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		callService(http.MethodGet, "/pcf/v1/agentmap/version", nil)
	},
}

func init() {
	agentMapCmd.AddCommand(agentMapVersionCmd)
}
