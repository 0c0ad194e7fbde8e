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
	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// Recompute derives global completion from the aggregate counters and the
// currently visible status roster.
//
// # Description
//
// Pure and idempotent: safe to call redundantly, concurrently, and over a
// stale or partial roster. It returns true only when ingestion has finished
// (IngestedCommandCount equals TotalCommandCount, both known) and every
// visible roster member is terminal. A partial roster therefore can never
// produce a false positive: missing status records keep the ingested count
// behind the total.
//
// A command whose finalized roster is empty (nothing applicable) is
// globally complete immediately.
//
// # Outputs
//
//   - bool: the derived IsGloballyComplete value. The core record is not
//     mutated.
func Recompute(core *datatypes.CommandHistoryCoreRecord, statuses []*datatypes.CommandHistoryAssetGroupStatusRecord) bool {
	if core == nil {
		return false
	}
	if core.TotalCommandCount == nil || core.IngestedCommandCount == nil {
		return false
	}
	if *core.IngestedCommandCount != *core.TotalCommandCount {
		return false
	}
	if len(statuses) < *core.TotalCommandCount {
		// The roster read lags the counters; wait for the next pass.
		return false
	}
	for _, status := range statuses {
		if status == nil || !status.IsTerminal() {
			return false
		}
	}
	return true
}

// CountTerminal returns how many roster members are terminal, for the
// CompletedCommandCount counter.
func CountTerminal(statuses []*datatypes.CommandHistoryAssetGroupStatusRecord) int {
	n := 0
	for _, status := range statuses {
		if status != nil && status.IsTerminal() {
			n++
		}
	}
	return n
}
