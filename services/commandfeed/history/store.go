// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history tracks per-command aggregates and per-asset-group status
// records, and derives global completion from them.
//
// # Description
//
// The Store interface is optimistic-concurrency CRUD over the three record
// kinds: create-if-absent, read-with-etag, replace-if-match. Completion is
// recomputed as a pure function over the status roster, so redundant or
// concurrent recomputation is always safe.
package history

import (
	"context"
	"errors"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// =============================================================================
// Store Errors
// =============================================================================

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means the supplied etag no longer matches the stored
	// record. Callers should re-read and retry the higher-level operation.
	ErrConflict = errors.New("etag conflict")

	// ErrAlreadyExists means a create hit an existing record.
	ErrAlreadyExists = errors.New("record already exists")
)

// =============================================================================
// Store Interface
// =============================================================================

// Store is the durable document store for command history. Every Replace
// takes the etag returned by the Read that produced the record; a stale
// etag fails with ErrConflict and never partially applies.
type Store interface {
	// CreateCore inserts the per-command aggregate record. Fails with
	// ErrAlreadyExists when the command was already ingested.
	CreateCore(ctx context.Context, record *datatypes.CommandHistoryCoreRecord) error

	// ReadCore returns the aggregate record and its current etag.
	ReadCore(ctx context.Context, commandID string) (*datatypes.CommandHistoryCoreRecord, string, error)

	// ReplaceCore overwrites the aggregate record if etag still matches.
	ReplaceCore(ctx context.Context, record *datatypes.CommandHistoryCoreRecord, etag string) error

	// CreateStatus inserts one (command, asset group) status record.
	CreateStatus(ctx context.Context, record *datatypes.CommandHistoryAssetGroupStatusRecord) error

	// ReadStatus returns one status record and its current etag.
	ReadStatus(ctx context.Context, commandID, assetGroupID string) (*datatypes.CommandHistoryAssetGroupStatusRecord, string, error)

	// ReplaceStatus overwrites one status record if etag still matches.
	ReplaceStatus(ctx context.Context, record *datatypes.CommandHistoryAssetGroupStatusRecord, etag string) error

	// ListStatuses returns every status record for the command. The read
	// is not transactional across records; callers must tolerate a
	// stale or partial roster.
	ListStatuses(ctx context.Context, commandID string) ([]*datatypes.CommandHistoryAssetGroupStatusRecord, error)

	// FindStatusByLease locates the status record currently holding the
	// given lease id, scoped to one command.
	FindStatusByLease(ctx context.Context, commandID, leaseID string) (*datatypes.CommandHistoryAssetGroupStatusRecord, string, error)

	// CreateExportDestination inserts the write-once export target for one
	// (command, asset group).
	CreateExportDestination(ctx context.Context, record *datatypes.CommandHistoryExportDestinationRecord) error

	// ReadExportDestination returns the export target, if any.
	ReadExportDestination(ctx context.Context, commandID, assetGroupID string) (*datatypes.CommandHistoryExportDestinationRecord, string, error)

	// ListOpenCommandIDs returns ids of commands not yet globally complete,
	// for the completion sweeper.
	ListOpenCommandIDs(ctx context.Context) ([]string, error)
}
