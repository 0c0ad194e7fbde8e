// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// feedctl is the operator CLI for the command feed service.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Operator tooling for the privacy command feed",
	Long: `feedctl inspects and administers a running command feed service.

Examples:
  feedctl status cmd-1234
  feedctl force-complete cmd-1234 --agent agent-1 --asset-group ag-1
  feedctl agentmap version`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	defaultServer := os.Getenv("COMMANDFEED_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:12310"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer,
		"Base URL of the command feed service")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(forceCompleteCmd)
	rootCmd.AddCommand(agentMapCmd)
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

var httpClient = &http.Client{Timeout: 10 * time.Second}

// callService performs one JSON request and pretty-prints the response body.
// Non-2xx responses exit with code 1 after printing the error envelope.
func callService(method, path string, body any) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("Error encoding request: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, serverURL+path, payload)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Fatalf("Error calling %s: %v", serverURL+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		os.Exit(1)
	}
}
