// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

func intPtr(v int) *int { return &v }

func completedStatus(assetGroupID string) *datatypes.CommandHistoryAssetGroupStatusRecord {
	now := time.Now()
	return &datatypes.CommandHistoryAssetGroupStatusRecord{
		CommandID:     "cmd-1",
		AssetGroupID:  assetGroupID,
		CompletedTime: &now,
	}
}

func pendingStatus(assetGroupID string) *datatypes.CommandHistoryAssetGroupStatusRecord {
	now := time.Now()
	return &datatypes.CommandHistoryAssetGroupStatusRecord{
		CommandID:     "cmd-1",
		AssetGroupID:  assetGroupID,
		IngestionTime: &now,
	}
}

func TestRecompute(t *testing.T) {
	t.Run("incomplete ingestion blocks completion", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(5),
			IngestedCommandCount: intPtr(3),
		}
		statuses := []*datatypes.CommandHistoryAssetGroupStatusRecord{
			completedStatus("ag-1"), completedStatus("ag-2"), completedStatus("ag-3"),
		}
		assert.False(t, Recompute(core, statuses),
			"all known statuses terminal, but 2 of 5 not yet ingested")
	})

	t.Run("full terminal roster completes", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(5),
			IngestedCommandCount: intPtr(5),
		}
		var statuses []*datatypes.CommandHistoryAssetGroupStatusRecord
		for _, id := range []string{"ag-1", "ag-2", "ag-3", "ag-4", "ag-5"} {
			statuses = append(statuses, completedStatus(id))
		}
		assert.True(t, Recompute(core, statuses))
	})

	t.Run("one pending member blocks completion", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(2),
			IngestedCommandCount: intPtr(2),
		}
		statuses := []*datatypes.CommandHistoryAssetGroupStatusRecord{
			completedStatus("ag-1"), pendingStatus("ag-2"),
		}
		assert.False(t, Recompute(core, statuses))
	})

	t.Run("unknown counters block completion", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{CommandID: "cmd-1"}
		assert.False(t, Recompute(core, nil))

		core.TotalCommandCount = intPtr(0)
		assert.False(t, Recompute(core, nil), "ingested count still unknown")
	})

	t.Run("empty finalized roster is complete immediately", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(0),
			IngestedCommandCount: intPtr(0),
		}
		assert.True(t, Recompute(core, nil))
	})

	t.Run("stale partial roster read is safe", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(3),
			IngestedCommandCount: intPtr(3),
		}
		// Listing returned only 2 of 3 documents.
		statuses := []*datatypes.CommandHistoryAssetGroupStatusRecord{
			completedStatus("ag-1"), completedStatus("ag-2"),
		}
		assert.False(t, Recompute(core, statuses))
	})

	t.Run("terminal variants all count", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(4),
			IngestedCommandCount: intPtr(4),
		}
		now := time.Now()
		statuses := []*datatypes.CommandHistoryAssetGroupStatusRecord{
			{AssetGroupID: "ag-1", CompletedTime: &now},
			{AssetGroupID: "ag-2", SoftDeleteTime: &now},
			{AssetGroupID: "ag-3", Delinked: true},
			{AssetGroupID: "ag-4", ForceCompleted: true},
		}
		assert.True(t, Recompute(core, statuses))
		assert.Equal(t, 4, CountTerminal(statuses))
	})

	t.Run("idempotent over repeated calls", func(t *testing.T) {
		core := &datatypes.CommandHistoryCoreRecord{
			CommandID:            "cmd-1",
			TotalCommandCount:    intPtr(1),
			IngestedCommandCount: intPtr(1),
		}
		statuses := []*datatypes.CommandHistoryAssetGroupStatusRecord{completedStatus("ag-1")}
		first := Recompute(core, statuses)
		second := Recompute(core, statuses)
		assert.Equal(t, first, second)
		assert.True(t, first)
	})
}
