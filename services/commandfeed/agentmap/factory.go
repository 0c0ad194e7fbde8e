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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/commandfeed/pkg/retry"
)

// ErrNotInitialized is returned when a snapshot is requested before
// Initialize has produced one.
var ErrNotInitialized = errors.New("agent map not initialized")

// DefaultRefreshInterval is used when the factory config leaves the
// interval unset.
const DefaultRefreshInterval = 5 * time.Minute

// =============================================================================
// Factory
// =============================================================================

// Factory owns the current snapshot and refreshes it in the background.
//
// # Description
//
// Get returns the current snapshot without blocking. Refresh runs as a
// long-lived loop replacing the snapshot on a timer and on feed-file change
// notifications; a failed refresh logs, retries per the configured policy,
// and leaves the last good snapshot in place.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The snapshot swap is an atomic
// pointer store.
type Factory struct {
	loader   Loader
	logger   *slog.Logger
	retries  *retry.Manager
	interval time.Duration
	feedPath string

	current atomic.Pointer[Map]

	mu      sync.Mutex
	updated chan struct{}
	nudge   chan struct{}
	running bool
	done    chan struct{}

	// onSwap, when set, observes every successful snapshot replacement.
	onSwap func(*Map)
}

// Option configures a Factory.
type Option func(*Factory)

// WithRefreshInterval overrides the periodic refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(f *Factory) { f.interval = d }
}

// WithRetry wraps each load in the given retry manager.
func WithRetry(m *retry.Manager) Option {
	return func(f *Factory) { f.retries = m }
}

// WithLogger routes factory logs through l.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithFileWatch nudges the refresh loop when the feed file at path changes,
// so updates land ahead of the periodic timer.
func WithFileWatch(path string) Option {
	return func(f *Factory) { f.feedPath = path }
}

// WithSwapObserver registers a callback invoked after every successful
// snapshot replacement, e.g. for metrics.
func WithSwapObserver(fn func(*Map)) Option {
	return func(f *Factory) { f.onSwap = fn }
}

// NewFactory builds a factory over the given loader.
func NewFactory(loader Loader, opts ...Option) *Factory {
	f := &Factory{
		loader:   loader,
		logger:   slog.Default(),
		retries:  retry.NewManager(nil, nil),
		interval: DefaultRefreshInterval,
		updated:  make(chan struct{}),
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialize performs the first load. It must succeed before the service
// can evaluate applicability, so failures here are fatal to startup.
func (f *Factory) Initialize(ctx context.Context) error {
	return f.refreshOnce(ctx)
}

// Get returns the current snapshot without blocking, or nil before
// Initialize has succeeded.
func (f *Factory) Get() *Map {
	return f.current.Load()
}

// GetVersion blocks until a snapshot with at least the requested version is
// available, or ctx ends.
func (f *Factory) GetVersion(ctx context.Context, version int64) (*Map, error) {
	for {
		m := f.current.Load()
		if m != nil && m.Version() >= version {
			return m, nil
		}
		f.mu.Lock()
		ch := f.updated
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for agent map version %d: %w", version, ctx.Err())
		case <-ch:
		}
	}
}

// Refresh runs the background refresh loop until ctx is cancelled or Stop
// is called. Cancellation is observed at iteration boundaries, never
// mid-swap, so the last good snapshot always remains readable.
func (f *Factory) Refresh(ctx context.Context) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	var watcher *fsnotify.Watcher
	if f.feedPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			f.logger.Warn("feed file watch unavailable", "error", err)
		} else if err := w.Add(f.feedPath); err != nil {
			f.logger.Warn("feed file watch unavailable", "path", f.feedPath, "error", err)
			w.Close()
		} else {
			watcher = w
			go f.forwardFileEvents(ctx, watcher, done)
		}
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	defer func() {
		if watcher != nil {
			watcher.Close()
		}
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	f.logger.Info("agent map refresh loop started", "interval", f.interval.String())
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("agent map refresh loop stopped", "reason", "context cancelled")
			return
		case <-done:
			f.logger.Info("agent map refresh loop stopped", "reason", "stop requested")
			return
		case <-ticker.C:
		case <-f.nudge:
		}
		if err := f.refreshOnce(ctx); err != nil {
			f.logger.Error("agent map refresh failed, keeping last good snapshot", "error", err)
		}
	}
}

// Stop ends a running refresh loop. Safe to call when not running.
func (f *Factory) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running && f.done != nil {
		close(f.done)
		f.done = nil
		f.running = false
	}
}

// RefreshNow nudges the loop to refresh ahead of the timer.
func (f *Factory) RefreshNow() {
	select {
	case f.nudge <- struct{}{}:
	default:
	}
}

func (f *Factory) refreshOnce(ctx context.Context) error {
	var next *Map
	err := f.retries.Do(ctx, "agentmap.load", func(ctx context.Context) error {
		m, err := f.loader.Load(ctx)
		if err != nil {
			return err
		}
		next = m
		return nil
	})
	if err != nil {
		return err
	}

	prev := f.current.Load()
	if prev != nil && next.Version() < prev.Version() {
		// A feed rollback never replaces a newer snapshot.
		return fmt.Errorf("feed version went backwards: have %d, got %d", prev.Version(), next.Version())
	}
	f.current.Store(next)

	f.mu.Lock()
	close(f.updated)
	f.updated = make(chan struct{})
	f.mu.Unlock()

	if f.onSwap != nil {
		f.onSwap(next)
	}
	f.logger.Info("agent map snapshot replaced",
		"version", next.Version(),
		"agents", next.AgentCount(),
		"asset_groups", next.AssetGroupCount())
	return nil
}

func (f *Factory) forwardFileEvents(ctx context.Context, watcher *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				f.logger.Debug("feed file changed", "path", event.Name)
				f.RefreshNow()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("feed file watch error", "error", err)
		}
	}
}
