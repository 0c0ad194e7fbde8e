// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides a transient-fault retry wrapper with configurable
// backoff strategies.
//
// # Description
//
// A Manager wraps an operation and, when it fails with an error the
// configured classifier deems transient, re-runs it according to a Strategy:
// fixed interval, incrementing interval, or capped exponential backoff.
// A Manager with no strategy runs the operation exactly once.
//
// # Thread Safety
//
// Managers are immutable after construction and safe for concurrent use.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"
)

// =============================================================================
// Strategies
// =============================================================================

// Strategy yields the delay before retry attempt n (1-based) and the number
// of retries allowed after the initial attempt.
type Strategy interface {
	// RetryCount returns how many retries may follow the initial attempt.
	RetryCount() int

	// Delay returns the sleep before retry attempt n, where n runs from 1
	// to RetryCount().
	Delay(n int) time.Duration
}

type fixedInterval struct {
	count    int
	interval time.Duration
}

func (s fixedInterval) RetryCount() int         { return s.count }
func (s fixedInterval) Delay(int) time.Duration { return s.interval }

// FixedInterval retries up to count times, sleeping the same interval
// between attempts.
func FixedInterval(count int, interval time.Duration) Strategy {
	return fixedInterval{count: count, interval: interval}
}

type incrementInterval struct {
	count     int
	initial   time.Duration
	increment time.Duration
}

func (s incrementInterval) RetryCount() int { return s.count }

func (s incrementInterval) Delay(n int) time.Duration {
	return s.initial + time.Duration(n-1)*s.increment
}

// IncrementInterval retries up to count times, growing the sleep linearly
// from initial by increment per attempt.
func IncrementInterval(count int, initial, increment time.Duration) Strategy {
	return incrementInterval{count: count, initial: initial, increment: increment}
}

type exponentialBackoff struct {
	count      int
	minBackoff time.Duration
	maxBackoff time.Duration
	delta      time.Duration
}

func (s exponentialBackoff) RetryCount() int { return s.count }

func (s exponentialBackoff) Delay(n int) time.Duration {
	// delta scales 2^n - 1 with up to 20% jitter, clamped to [min, max].
	exp := float64(int64(1)<<uint(n)) - 1
	jittered := float64(s.delta) * (0.8 + 0.4*rand.Float64())
	d := s.minBackoff + time.Duration(exp*jittered)
	if d > s.maxBackoff {
		return s.maxBackoff
	}
	if d < s.minBackoff {
		return s.minBackoff
	}
	return d
}

// ExponentialBackoff retries up to count times with exponentially growing,
// jittered sleeps clamped to [minBackoff, maxBackoff].
func ExponentialBackoff(count int, minBackoff, maxBackoff, delta time.Duration) Strategy {
	return exponentialBackoff{count: count, minBackoff: minBackoff, maxBackoff: maxBackoff, delta: delta}
}

// =============================================================================
// Classifier
// =============================================================================

// IsTransient decides whether an error is worth retrying.
type IsTransient func(error) bool

// DefaultClassifier treats network timeouts and connection-level failures as
// transient and everything else as fatal.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// =============================================================================
// Manager
// =============================================================================

// Manager applies a Strategy and a transient classifier to operations.
type Manager struct {
	strategy    Strategy
	isTransient IsTransient
	logger      *slog.Logger
}

// NewManager builds a Manager.
//
// # Inputs
//
//   - strategy: may be nil, in which case operations run exactly once.
//   - isTransient: may be nil, in which case DefaultClassifier is used.
func NewManager(strategy Strategy, isTransient IsTransient) *Manager {
	if isTransient == nil {
		isTransient = DefaultClassifier
	}
	return &Manager{
		strategy:    strategy,
		isTransient: isTransient,
		logger:      slog.Default(),
	}
}

// WithLogger returns a copy of the manager logging through l.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	dup := *m
	dup.logger = l
	return &dup
}

// Do runs op, retrying per the configured strategy when op fails with a
// transient error. The name identifies the calling component/method in
// retry logs. The original error is returned after retries are exhausted.
// The backoff sleep observes ctx cancellation.
func (m *Manager) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || m.strategy == nil {
		return err
	}

	for attempt := 1; attempt <= m.strategy.RetryCount(); attempt++ {
		if !m.isTransient(err) {
			return err
		}
		delay := m.strategy.Delay(attempt)
		m.logger.Warn("operation failed, retrying",
			"operation", name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}
