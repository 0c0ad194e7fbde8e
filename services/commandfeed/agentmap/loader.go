// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentmap

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// =============================================================================
// Feed Loading
// =============================================================================

// Loader produces a fresh snapshot from the external registry feed.
type Loader interface {
	Load(ctx context.Context) (*Map, error)
}

// FeedDocument is the on-disk form of one registry feed snapshot.
type FeedDocument struct {
	Version     int64                      `yaml:"version" json:"version"`
	Agents      []datatypes.DataAgentInfo  `yaml:"agents" json:"agents"`
	AssetGroups []datatypes.AssetGroupInfo `yaml:"assetGroups" json:"assetGroups"`
}

// Validate rejects feeds with missing identities or dangling agent
// references before they can replace a good snapshot.
func (d *FeedDocument) Validate() error {
	if d.Version <= 0 {
		return fmt.Errorf("feed version must be positive, got %d", d.Version)
	}
	agentIDs := make(map[string]struct{}, len(d.Agents))
	for i := range d.Agents {
		if d.Agents[i].AgentID == "" {
			return fmt.Errorf("agent %d has no agentId", i)
		}
		agentIDs[d.Agents[i].AgentID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(d.AssetGroups))
	for i := range d.AssetGroups {
		ag := &d.AssetGroups[i]
		if ag.AssetGroupID == "" {
			return fmt.Errorf("asset group %d has no assetGroupId", i)
		}
		if _, dup := seen[ag.AssetGroupID]; dup {
			return fmt.Errorf("duplicate asset group id %s", ag.AssetGroupID)
		}
		seen[ag.AssetGroupID] = struct{}{}
		if _, ok := agentIDs[ag.AgentID]; !ok {
			return fmt.Errorf("asset group %s references unknown agent %s", ag.AssetGroupID, ag.AgentID)
		}
	}
	return nil
}

// FileLoader reads a YAML feed snapshot from disk.
type FileLoader struct {
	Path string
}

// Load parses and validates the feed file and builds a snapshot from it.
func (l *FileLoader) Load(ctx context.Context) (*Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("reading registry feed: %w", err)
	}
	var doc FeedDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry feed: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry feed: %w", err)
	}
	return NewMap(doc.Version, doc.Agents, doc.AssetGroups), nil
}
