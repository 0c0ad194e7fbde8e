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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// =============================================================================
// Weighted Moniker List
// =============================================================================

// WeightedMoniker is one storage-location hint with a selection weight.
type WeightedMoniker struct {
	Moniker string `json:"moniker"`
	Weight  int    `json:"weight"`
}

// CompressMonikerList serializes and gzips an ordered moniker list into the
// base64 form stored on the core record. Order is preserved exactly; an
// empty list compresses to the empty string.
func CompressMonikerList(monikers []WeightedMoniker) (string, error) {
	if len(monikers) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(monikers)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compressing moniker list: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing moniker list: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecompressMonikerList is the inverse of CompressMonikerList.
func DecompressMonikerList(compressed string) ([]WeightedMoniker, error) {
	if compressed == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(compressed)
	if err != nil {
		return nil, fmt.Errorf("decoding moniker list: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompressing moniker list: %w", err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing moniker list: %w", err)
	}
	var monikers []WeightedMoniker
	if err := json.Unmarshal(decompressed, &monikers); err != nil {
		return nil, fmt.Errorf("decoding moniker list: %w", err)
	}
	return monikers, nil
}
