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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/commandfeed/pkg/retry"
)

// DefaultSweepInterval is used when the sweeper config leaves the interval
// unset.
const DefaultSweepInterval = 30 * time.Second

// =============================================================================
// Completion Sweeper
// =============================================================================

// Sweeper periodically re-derives global completion for open commands.
//
// # Description
//
// Checkpoint handling recomputes completion inline, but that write can lose
// an etag race or crash before persisting. The sweeper is the catch-up
// path: every cycle it lists open commands, recomputes completion from the
// current roster, and flips IsGloballyComplete where warranted. Losing a
// race within a cycle is harmless; the next cycle sees the winner's write.
//
// # Thread Safety
//
// One Start per Sweeper; Start/Stop are safe to call from any goroutine.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	retries  *retry.Manager
	interval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewSweeper builds a sweeper over the given store.
func NewSweeper(store Store, logger *slog.Logger, retries *retry.Manager, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if retries == nil {
		retries = retry.NewManager(nil, nil)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		retries:  retries,
		interval: interval,
	}
}

// Start runs sweep cycles until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("completion sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("completion sweeper stopped", "reason", "context cancelled")
			return
		case <-done:
			s.logger.Info("completion sweeper stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop ends a running sweeper. Safe to call when not running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.done != nil {
		close(s.done)
		s.done = nil
		s.running = false
	}
}

// RunOnce performs a single sweep cycle. Exposed for tests and for the
// operator CLI.
func (s *Sweeper) RunOnce(ctx context.Context) {
	var ids []string
	err := s.retries.Do(ctx, "history.listOpen", func(ctx context.Context) error {
		var err error
		ids, err = s.store.ListOpenCommandIDs(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("completion sweep could not list open commands", "error", err)
		return
	}

	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		flipped, err := s.sweepCommand(ctx, id)
		if err != nil {
			s.logger.Warn("completion sweep skipped command", "command_id", id, "error", err)
			continue
		}
		if flipped {
			completed++
		}
	}
	if completed > 0 {
		s.logger.Info("completion sweep finished", "open", len(ids), "newly_complete", completed)
	}
}

// sweepCommand recomputes one command's completion. An etag conflict means
// someone else updated the core record concurrently; the next cycle will
// reconcile it.
func (s *Sweeper) sweepCommand(ctx context.Context, commandID string) (bool, error) {
	core, etag, err := s.store.ReadCore(ctx, commandID)
	if err != nil {
		return false, err
	}
	if core.IsGloballyComplete {
		return false, nil
	}
	statuses, err := s.store.ListStatuses(ctx, commandID)
	if err != nil {
		return false, err
	}

	terminal := CountTerminal(statuses)
	complete := Recompute(core, statuses)
	changed := complete
	if core.CompletedCommandCount == nil || *core.CompletedCommandCount != terminal {
		changed = true
	}
	if !changed {
		return false, nil
	}

	core.CompletedCommandCount = &terminal
	core.IsGloballyComplete = complete
	if err := s.store.ReplaceCore(ctx, core, etag); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return complete, nil
}
