// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agentmap maintains the versioned snapshot of registered agents
// and asset groups.
//
// # Description
//
// A Map is an immutable snapshot built wholesale from an external feed.
// The Factory owns the current snapshot behind an atomic pointer and
// replaces it from a background refresh loop; readers always see either the
// old or the new complete snapshot, never a partial one.
package agentmap

import (
	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// =============================================================================
// Snapshot
// =============================================================================

// Map is one immutable snapshot of the agent/asset-group registry. Never
// mutate a Map after construction; build a new one and swap it in.
type Map struct {
	version     int64
	agents      map[string]*datatypes.DataAgentInfo
	assetGroups map[string]*datatypes.AssetGroupInfo
	byAgent     map[string][]*datatypes.AssetGroupInfo
}

// NewMap builds a snapshot from feed rows. Asset groups are indexed by id
// and by owning agent.
func NewMap(version int64, agents []datatypes.DataAgentInfo, assetGroups []datatypes.AssetGroupInfo) *Map {
	m := &Map{
		version:     version,
		agents:      make(map[string]*datatypes.DataAgentInfo, len(agents)),
		assetGroups: make(map[string]*datatypes.AssetGroupInfo, len(assetGroups)),
		byAgent:     make(map[string][]*datatypes.AssetGroupInfo),
	}
	for i := range agents {
		a := agents[i]
		m.agents[a.AgentID] = &a
	}
	for i := range assetGroups {
		ag := assetGroups[i]
		m.assetGroups[ag.AssetGroupID] = &ag
		m.byAgent[ag.AgentID] = append(m.byAgent[ag.AgentID], &ag)
	}
	return m
}

// Version returns the feed version this snapshot was built from.
func (m *Map) Version() int64 { return m.version }

// Agent looks up an agent by id.
func (m *Map) Agent(agentID string) (*datatypes.DataAgentInfo, bool) {
	a, ok := m.agents[agentID]
	return a, ok
}

// AssetGroup looks up an asset group by id.
func (m *Map) AssetGroup(assetGroupID string) (*datatypes.AssetGroupInfo, bool) {
	ag, ok := m.assetGroups[assetGroupID]
	return ag, ok
}

// AssetGroupsForAgent returns the asset groups one agent owns.
func (m *Map) AssetGroupsForAgent(agentID string) []*datatypes.AssetGroupInfo {
	return m.byAgent[agentID]
}

// AssetGroups returns every asset group in the snapshot.
func (m *Map) AssetGroups() []*datatypes.AssetGroupInfo {
	out := make([]*datatypes.AssetGroupInfo, 0, len(m.assetGroups))
	for _, ag := range m.assetGroups {
		out = append(out, ag)
	}
	return out
}

// AssetGroupsByQualifier returns asset groups whose qualifier matches
// exactly. Qualifiers are not unique across agents.
func (m *Map) AssetGroupsByQualifier(qualifier string) []*datatypes.AssetGroupInfo {
	var out []*datatypes.AssetGroupInfo
	for _, ag := range m.assetGroups {
		if ag.AssetGroupQualifier == qualifier {
			out = append(out, ag)
		}
	}
	return out
}

// AgentCount and AssetGroupCount size the snapshot for logging.
func (m *Map) AgentCount() int      { return len(m.agents) }
func (m *Map) AssetGroupCount() int { return len(m.assetGroups) }
