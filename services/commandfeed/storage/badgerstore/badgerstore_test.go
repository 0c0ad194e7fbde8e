// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func coreRecord(commandID string) *datatypes.CommandHistoryCoreRecord {
	return &datatypes.CommandHistoryCoreRecord{
		CommandID:            commandID,
		CommandType:          datatypes.CommandTypeDelete,
		CreatedTime:          time.Now().UTC(),
		TotalCommandCount:    intPtr(2),
		IngestedCommandCount: intPtr(2),
	}
}

func TestCoreRecordLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCore(ctx, coreRecord("cmd-1")))

	t.Run("duplicate create rejected", func(t *testing.T) {
		err := s.CreateCore(ctx, coreRecord("cmd-1"))
		assert.ErrorIs(t, err, history.ErrAlreadyExists)
	})

	t.Run("read returns record and etag", func(t *testing.T) {
		got, etag, err := s.ReadCore(ctx, "cmd-1")
		require.NoError(t, err)
		assert.NotEmpty(t, etag)
		assert.Equal(t, "cmd-1", got.CommandID)
		assert.Equal(t, 2, *got.TotalCommandCount)
	})

	t.Run("read of missing record", func(t *testing.T) {
		_, _, err := s.ReadCore(ctx, "no-such-command")
		assert.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("replace rotates the etag", func(t *testing.T) {
		got, etag, err := s.ReadCore(ctx, "cmd-1")
		require.NoError(t, err)

		got.IsGloballyComplete = true
		require.NoError(t, s.ReplaceCore(ctx, got, etag))

		again, nextEtag, err := s.ReadCore(ctx, "cmd-1")
		require.NoError(t, err)
		assert.True(t, again.IsGloballyComplete)
		assert.NotEqual(t, etag, nextEtag)
	})

	t.Run("stale etag conflicts", func(t *testing.T) {
		got, etag, err := s.ReadCore(ctx, "cmd-1")
		require.NoError(t, err)

		require.NoError(t, s.ReplaceCore(ctx, got, etag))

		// The first replace consumed the etag.
		err = s.ReplaceCore(ctx, got, etag)
		assert.ErrorIs(t, err, history.ErrConflict)
	})
}

func TestStatusRoster(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ag := range []string{"ag-1", "ag-2", "ag-3"} {
		require.NoError(t, s.CreateStatus(ctx, &datatypes.CommandHistoryAssetGroupStatusRecord{
			CommandID:    "cmd-1",
			AssetGroupID: ag,
			AgentID:      "agent-1",
		}))
	}
	// A second command's roster must not leak into cmd-1 listings.
	require.NoError(t, s.CreateStatus(ctx, &datatypes.CommandHistoryAssetGroupStatusRecord{
		CommandID:    "cmd-2",
		AssetGroupID: "ag-1",
	}))

	statuses, err := s.ListStatuses(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Len(t, statuses, 3)
	for _, status := range statuses {
		assert.Equal(t, "cmd-1", status.CommandID)
	}

	t.Run("find by lease id", func(t *testing.T) {
		status, etag, err := s.ReadStatus(ctx, "cmd-1", "ag-2")
		require.NoError(t, err)
		status.LeaseID = "lease-77"
		require.NoError(t, s.ReplaceStatus(ctx, status, etag))

		found, foundEtag, err := s.FindStatusByLease(ctx, "cmd-1", "lease-77")
		require.NoError(t, err)
		assert.Equal(t, "ag-2", found.AssetGroupID)
		assert.NotEmpty(t, foundEtag)

		_, _, err = s.FindStatusByLease(ctx, "cmd-1", "lease-unknown")
		assert.ErrorIs(t, err, history.ErrNotFound)

		_, _, err = s.FindStatusByLease(ctx, "cmd-2", "lease-77")
		assert.ErrorIs(t, err, history.ErrNotFound, "lease lookup is scoped to one command")
	})
}

func TestExportDestinationWriteOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := &datatypes.CommandHistoryExportDestinationRecord{
		CommandID:      "cmd-1",
		AssetGroupID:   "ag-1",
		AgentID:        "agent-1",
		DestinationURI: "https://account.blob.example/container",
	}
	require.NoError(t, s.CreateExportDestination(ctx, record))
	assert.ErrorIs(t, s.CreateExportDestination(ctx, record), history.ErrAlreadyExists)

	got, _, err := s.ReadExportDestination(ctx, "cmd-1", "ag-1")
	require.NoError(t, err)
	assert.Equal(t, record.DestinationURI, got.DestinationURI)
}

func TestListOpenCommandIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCore(ctx, coreRecord("cmd-open-1")))
	require.NoError(t, s.CreateCore(ctx, coreRecord("cmd-open-2")))

	closed := coreRecord("cmd-closed")
	closed.IsGloballyComplete = true
	require.NoError(t, s.CreateCore(ctx, closed))

	ids, err := s.ListOpenCommandIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cmd-open-1", "cmd-open-2"}, ids)
}

func TestConcurrentReplaceOnlyOneWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCore(ctx, coreRecord("cmd-1")))
	record, etag, err := s.ReadCore(ctx, "cmd-1")
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			clone := *record
			results <- s.ReplaceCore(ctx, &clone, etag)
		}()
	}

	var conflicts, wins int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, history.ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestCancelledContextRejected(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.CreateCore(ctx, coreRecord("cmd-1")))
	_, _, err := s.ReadCore(ctx, "cmd-1")
	assert.Error(t, err)
}
