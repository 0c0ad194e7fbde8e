// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Command History Records
// =============================================================================

// CommandHistoryCoreRecord is the per-command aggregate. One exists per
// CommandID. Counters are pointers because ingestion may still be running
// when the record is first read; a nil counter means "not yet known".
//
// Invariant once all three counters are known:
// CompletedCommandCount <= IngestedCommandCount <= TotalCommandCount.
type CommandHistoryCoreRecord struct {
	CommandID   string          `json:"commandId"`
	CommandType CommandType     `json:"commandType"`
	Subject     json.RawMessage `json:"subject,omitempty"`
	Requester   string          `json:"requester,omitempty"`
	Context     string          `json:"context,omitempty"`
	CreatedTime time.Time       `json:"createdTime"`

	// RawCommand is the command's discriminated JSON form as ingested, used
	// to rebuild the full command for query responses.
	RawCommand json.RawMessage `json:"rawCommand,omitempty"`

	TotalCommandCount     *int `json:"totalCommandCount,omitempty"`
	IngestedCommandCount  *int `json:"ingestedCommandCount,omitempty"`
	CompletedCommandCount *int `json:"completedCommandCount,omitempty"`

	// IsGloballyComplete is derived; it flips to true only when every
	// roster member is terminal and ingestion has caught up to the total.
	IsGloballyComplete bool `json:"isGloballyComplete"`

	// WeightedMonikerList holds storage-location hints, gzip+base64
	// compressed. Decode with DecompressMonikerList.
	WeightedMonikerList string `json:"weightedMonikerList,omitempty"`
}

// CommandHistoryAssetGroupStatusRecord tracks one (CommandID, AssetGroupID)
// pair. Created at ingestion when the command is found applicable; mutated
// only through checkpoint-driven updates until a terminal field is set.
type CommandHistoryAssetGroupStatusRecord struct {
	CommandID    string `json:"commandId"`
	AgentID      string `json:"agentId"`
	AssetGroupID string `json:"assetGroupId"`

	IngestionTime  *time.Time `json:"ingestionTime,omitempty"`
	CompletedTime  *time.Time `json:"completedTime,omitempty"`
	SoftDeleteTime *time.Time `json:"softDeleteTime,omitempty"`

	Delinked       bool `json:"delinked,omitempty"`
	ForceCompleted bool `json:"forceCompleted,omitempty"`

	// NonAuthoritative marks completions reported by test-in-prod agents.
	// They close the roster entry but auditors treat them as unverified.
	NonAuthoritative bool `json:"nonAuthoritative,omitempty"`

	// LastStatus records the most recent checkpoint status, including the
	// natural status that preceded a forced completion.
	LastStatus CommandStatus `json:"lastStatus,omitempty"`

	// LeaseID is the id of the currently honored lease receipt. A
	// checkpoint carrying any other receipt id is rejected as a conflict.
	LeaseID         string     `json:"leaseId,omitempty"`
	LeaseExpiration *time.Time `json:"leaseExpiration,omitempty"`
	NextVisibleTime *time.Time `json:"nextVisibleTime,omitempty"`

	ClaimedVariants []string `json:"claimedVariants,omitempty"`
	AffectedRows    *int64   `json:"affectedRows,omitempty"`
	AgentState      string   `json:"agentState,omitempty"`

	StorageAccountMoniker string   `json:"storageAccountMoniker,omitempty"`
	NonTransientFailures  []string `json:"nonTransientFailures,omitempty"`
}

// IsTerminal reports whether the asset group has finished with the command.
func (r *CommandHistoryAssetGroupStatusRecord) IsTerminal() bool {
	return r.CompletedTime != nil || r.SoftDeleteTime != nil || r.Delinked || r.ForceCompleted
}

// ClaimVariants unions variant ids into ClaimedVariants. Re-claiming an
// already-claimed variant is a no-op.
func (r *CommandHistoryAssetGroupStatusRecord) ClaimVariants(variantIDs []string) {
	for _, id := range variantIDs {
		if !containsString(r.ClaimedVariants, id) {
			r.ClaimedVariants = append(r.ClaimedVariants, id)
		}
	}
}

// CommandHistoryExportDestinationRecord holds the export target for one
// (CommandID, AssetGroupID). Write-once; export commands only.
type CommandHistoryExportDestinationRecord struct {
	CommandID       string `json:"commandId"`
	AgentID         string `json:"agentId"`
	AssetGroupID    string `json:"assetGroupId"`
	DestinationURI  string `json:"destinationUri"`
	DestinationPath string `json:"destinationPath,omitempty"`
}

// =============================================================================
// Checkpoint Value Objects
// =============================================================================

// ExportedFileSizeDetail describes one file an agent wrote during export.
type ExportedFileSizeDetail struct {
	FileName       string `json:"fileName"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	IsCompressed   bool   `json:"isCompressed"`
}

// ProcessedCommand summarizes one finished command from the agent's side,
// ready to be submitted as a bulk checkpoint item.
type ProcessedCommand struct {
	CommandID               string
	LeaseReceipt            string
	AffectedRowCount        int64
	VariantIDs              []string
	NonTransientFailures    []string
	ExportedFileSizeDetails []ExportedFileSizeDetail
}

// ToBulkCheckpointItem converts the processed command into the bulk
// checkpoint wire form.
func (p *ProcessedCommand) ToBulkCheckpointItem() BulkCheckpointItem {
	return BulkCheckpointItem{
		ID:                      p.CommandID,
		LeaseReceipt:            p.LeaseReceipt,
		RowCount:                p.AffectedRowCount,
		VariantIDs:              p.VariantIDs,
		NonTransientFailures:    p.NonTransientFailures,
		ExportedFileSizeDetails: p.ExportedFileSizeDetails,
	}
}
