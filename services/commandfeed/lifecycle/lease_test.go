// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

func TestLeaseReceiptRoundTrip(t *testing.T) {
	issuer := NewLeaseIssuer([]byte("key-1"))
	expires := time.Now().Add(time.Hour)

	receipt, leaseID, err := issuer.Issue("cmd-1", "agent-1", "ag-1", datatypes.CommandTypeDelete, "moniker-a", expires)
	require.NoError(t, err)
	require.NotEmpty(t, leaseID)

	claims, err := issuer.Parse(receipt)
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", claims.CommandID)
	assert.Equal(t, "agent-1", claims.AgentID)
	assert.Equal(t, "ag-1", claims.AssetGroupID)
	assert.Equal(t, string(datatypes.CommandTypeDelete), claims.CommandType)
	assert.Equal(t, "moniker-a", claims.Moniker)
	assert.Equal(t, leaseID, claims.LeaseID())
}

func TestLeaseReceiptRejections(t *testing.T) {
	issuer := NewLeaseIssuer([]byte("key-1"))

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("definitely.not.a.receipt")
		assert.True(t, IsCode(err, CodeMalformedReceipt), "got %v", err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewLeaseIssuer([]byte("key-2"))
		receipt, _, err := other.Issue("cmd-1", "agent-1", "ag-1", datatypes.CommandTypeDelete, "", time.Now().Add(time.Hour))
		require.NoError(t, err)

		_, err = issuer.Parse(receipt)
		assert.True(t, IsCode(err, CodeMalformedReceipt), "got %v", err)
	})

	t.Run("expired", func(t *testing.T) {
		receipt, _, err := issuer.Issue("cmd-1", "agent-1", "ag-1", datatypes.CommandTypeDelete, "", time.Now().Add(-time.Minute))
		require.NoError(t, err)

		_, err = issuer.Parse(receipt)
		assert.True(t, IsCode(err, CodeLeaseExpired), "got %v", err)
	})
}

func TestJitteredStaysInBand(t *testing.T) {
	rnd := rand.New(rand.NewSource(1)).Float64
	base := 10 * time.Minute
	low := time.Duration(float64(base) * 0.669)
	high := time.Duration(float64(base) * 1.331)

	for i := 0; i < 1000; i++ {
		d := jittered(base, 0.33, rnd)
		assert.GreaterOrEqual(t, d, low)
		assert.LessOrEqual(t, d, high)
	}

	t.Run("zero rate passes through", func(t *testing.T) {
		assert.Equal(t, base, jittered(base, 0, rnd))
	})
}
