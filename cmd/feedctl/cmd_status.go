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

// statusCmd prints the per-asset-group status aggregate for one command.
//
// # Examples
//
//	feedctl status cmd-1234
var statusCmd = &cobra.Command{
	Use:   "status <commandId>",
	Short: "Show the roster status aggregate for one command",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callService(http.MethodGet, "/pcf/v1/commands/"+args[0]+"/status", nil)
	},
}
