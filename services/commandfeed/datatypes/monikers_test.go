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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonikerList_RoundTrip(t *testing.T) {
	t.Run("ordered list reproduces exactly", func(t *testing.T) {
		original := []WeightedMoniker{
			{Moniker: "store-east-01", Weight: 5},
			{Moniker: "store-west-02", Weight: 1},
			{Moniker: "store-east-01", Weight: 5}, // duplicates are preserved
			{Moniker: "store-europe-03", Weight: 9},
		}

		compressed, err := CompressMonikerList(original)
		require.NoError(t, err)
		require.NotEmpty(t, compressed)

		decompressed, err := DecompressMonikerList(compressed)
		require.NoError(t, err)
		assert.Equal(t, original, decompressed)
	})

	t.Run("empty list compresses to empty string", func(t *testing.T) {
		compressed, err := CompressMonikerList(nil)
		require.NoError(t, err)
		assert.Empty(t, compressed)

		decompressed, err := DecompressMonikerList("")
		require.NoError(t, err)
		assert.Nil(t, decompressed)
	})

	t.Run("garbage input fails to decode", func(t *testing.T) {
		_, err := DecompressMonikerList("not base64 at all!!!")
		assert.Error(t, err)
	})
}
