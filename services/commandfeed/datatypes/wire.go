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
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Wire Contracts
// =============================================================================

// CheckpointRequest is the single-command checkpoint call an agent makes to
// report progress and renew (or finish) its lease.
type CheckpointRequest struct {
	Status         string `json:"status" validate:"required,commandstatus"`
	RowCount       int64  `json:"rowCount" validate:"gte=0"`
	LeaseExtension int64  `json:"leaseExtension,omitempty" validate:"gte=0"` // seconds
	AgentState     string `json:"agentState,omitempty" validate:"max=1024"`
	CommandID      string `json:"commandId" validate:"required"`
	LeaseReceipt   string `json:"leaseReceipt" validate:"required"`

	Variants                []string                 `json:"variants,omitempty"`
	NonTransientFailures    []string                 `json:"nonTransientFailures,omitempty"`
	ExportedFileSizeDetails []ExportedFileSizeDetail `json:"exportedFileSizeDetails,omitempty"`
}

// CheckpointResponse carries the fresh lease receipt that supersedes the one
// the request was made with.
type CheckpointResponse struct {
	LeaseReceipt string `json:"leaseReceipt"`
}

// BulkCheckpointItem is one entry in a bulk complete call. Status is
// implicitly Complete for every item.
type BulkCheckpointItem struct {
	ID                      string                   `json:"id" validate:"required"`
	LeaseReceipt            string                   `json:"leaseReceipt" validate:"required"`
	RowCount                int64                    `json:"rowCount" validate:"gte=0"`
	VariantIDs              []string                 `json:"variantIds,omitempty"`
	NonTransientFailures    []string                 `json:"nonTransientFailures,omitempty"`
	ExportedFileSizeDetails []ExportedFileSizeDetail `json:"exportedFileSizeDetails,omitempty"`
}

// BulkCheckpointRequest completes many commands in one call. Items are
// processed independently; one item's failure never aborts the rest.
type BulkCheckpointRequest struct {
	Items []BulkCheckpointItem `json:"items" validate:"required,min=1,dive"`
}

// BulkCheckpointResult is the per-item outcome. The response carries exactly
// one result per submitted item, preserving input order.
type BulkCheckpointResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// BulkCheckpointResponse wraps the ordered per-item results.
type BulkCheckpointResponse struct {
	Results []BulkCheckpointResult `json:"results"`
}

// QueryCommandRequest fetches the full command a lease receipt refers to.
type QueryCommandRequest struct {
	LeaseReceipt string `json:"leaseReceipt" validate:"required"`
}

// QueryCommandResponse carries the command in its discriminated JSON form
// (the "type" field selects delete/export/accountclose/ageout).
type QueryCommandResponse struct {
	Command any `json:"command"`
}

// QueueStatsRequest asks for pending-command counts, optionally narrowed to
// one asset group qualifier and one command type.
type QueueStatsRequest struct {
	AssetQualifier string `json:"assetQualifier,omitempty"`
	CommandType    string `json:"commandType,omitempty" validate:"omitempty,commandtype"`
}

// QueueStat is the pending depth for one asset group.
type QueueStat struct {
	AssetGroupID        string `json:"assetGroupId"`
	AssetGroupQualifier string `json:"assetGroupQualifier,omitempty"`
	PendingCommandCount int64  `json:"pendingCommandCount"`
}

// QueueStatsResponse aggregates queue stats; TotalPending is the sum over
// all returned entries.
type QueueStatsResponse struct {
	QueueStats   []QueueStat `json:"queueStats"`
	TotalPending int64       `json:"totalPending"`
}

// CommandStatusResponse is the operator-facing aggregate for one command.
type CommandStatusResponse struct {
	CommandID          string             `json:"commandId"`
	CommandType        CommandType        `json:"commandType"`
	CreatedTime        string             `json:"createdTime"`
	IsGloballyComplete bool               `json:"isGloballyComplete"`
	TotalCount         *int               `json:"totalCount,omitempty"`
	IngestedCount      *int               `json:"ingestedCount,omitempty"`
	CompletedCount     *int               `json:"completedCount,omitempty"`
	AssetGroupStatuses []AssetGroupStatus `json:"assetGroupStatuses"`
}

// AssetGroupStatus is one roster member's state in a status aggregate.
type AssetGroupStatus struct {
	AgentID         string   `json:"agentId"`
	AssetGroupID    string   `json:"assetGroupId"`
	Terminal        bool     `json:"terminal"`
	LastStatus      string   `json:"lastStatus,omitempty"`
	ForceCompleted  bool     `json:"forceCompleted,omitempty"`
	AffectedRows    *int64   `json:"affectedRows,omitempty"`
	ClaimedVariants []string `json:"claimedVariants,omitempty"`
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New()

func init() {
	// Registered validators mirror the enum parsers so handler-level binding
	// rejects unknown identifiers before the service sees them.
	_ = validate.RegisterValidation("commandstatus", func(fl validator.FieldLevel) bool {
		_, err := ParseCommandStatus(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("commandtype", func(fl validator.FieldLevel) bool {
		_, err := ParseCommandType(fl.Field().String())
		return err == nil
	})
}

// ValidateStruct runs the registered validator against any wire struct.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
