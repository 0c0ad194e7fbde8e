// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysTransient(error) bool { return true }

func TestManager_Do(t *testing.T) {
	t.Run("fixed interval invokes initial plus count retries", func(t *testing.T) {
		m := NewManager(FixedInterval(2, 10*time.Millisecond), alwaysTransient)
		boom := errors.New("boom")
		calls := 0

		err := m.Do(context.Background(), "store.write", func(context.Context) error {
			calls++
			return boom
		})

		assert.Equal(t, 3, calls, "expected 1 initial attempt + 2 retries")
		assert.ErrorIs(t, err, boom, "original error should surface after exhaustion")
	})

	t.Run("nil strategy runs exactly once", func(t *testing.T) {
		m := NewManager(nil, alwaysTransient)
		calls := 0

		err := m.Do(context.Background(), "store.write", func(context.Context) error {
			calls++
			return errors.New("boom")
		})

		assert.Equal(t, 1, calls)
		assert.Error(t, err)
	})

	t.Run("success on retry stops retrying", func(t *testing.T) {
		m := NewManager(FixedInterval(5, time.Millisecond), alwaysTransient)
		calls := 0

		err := m.Do(context.Background(), "store.write", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("fatal error is not retried", func(t *testing.T) {
		m := NewManager(FixedInterval(5, time.Millisecond), func(error) bool { return false })
		calls := 0

		err := m.Do(context.Background(), "store.write", func(context.Context) error {
			calls++
			return errors.New("fatal")
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context aborts backoff", func(t *testing.T) {
		m := NewManager(FixedInterval(3, time.Hour), alwaysTransient)
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		done := make(chan error, 1)
		go func() {
			done <- m.Do(ctx, "store.write", func(context.Context) error {
				calls++
				return errors.New("transient")
			})
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(2 * time.Second):
			t.Fatal("Do did not return after cancellation")
		}
	})
}

func TestStrategies(t *testing.T) {
	t.Run("increment interval grows linearly", func(t *testing.T) {
		s := IncrementInterval(3, 100*time.Millisecond, 50*time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, s.Delay(1))
		assert.Equal(t, 150*time.Millisecond, s.Delay(2))
		assert.Equal(t, 200*time.Millisecond, s.Delay(3))
	})

	t.Run("exponential backoff stays within bounds", func(t *testing.T) {
		s := ExponentialBackoff(8, 10*time.Millisecond, 500*time.Millisecond, 20*time.Millisecond)
		for n := 1; n <= 8; n++ {
			d := s.Delay(n)
			assert.GreaterOrEqual(t, d, 10*time.Millisecond, "attempt %d", n)
			assert.LessOrEqual(t, d, 500*time.Millisecond, "attempt %d", n)
		}
	})
}

func TestConfig_Build(t *testing.T) {
	t.Run("empty mode yields nil strategy", func(t *testing.T) {
		s, err := Config{}.Build()
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("fixed mode", func(t *testing.T) {
		s, err := Config{Mode: "fixed", Count: 4, Interval: time.Second}.Build()
		require.NoError(t, err)
		assert.Equal(t, 4, s.RetryCount())
		assert.Equal(t, time.Second, s.Delay(1))
	})

	t.Run("unknown mode fails", func(t *testing.T) {
		_, err := Config{Mode: "fibonacci"}.Build()
		assert.Error(t, err)
	})
}

func TestDefaultClassifier(t *testing.T) {
	assert.True(t, DefaultClassifier(context.DeadlineExceeded))
	assert.False(t, DefaultClassifier(errors.New("validation failed")))
	assert.False(t, DefaultClassifier(nil))
}
