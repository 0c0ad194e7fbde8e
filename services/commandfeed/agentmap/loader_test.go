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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

const sampleFeed = `
version: 7
agents:
  - agentId: agent-1
    name: Contoso Cleanup Agent
    readinessState: production
assetGroups:
  - assetGroupId: ag-1
    agentId: agent-1
    assetGroupQualifier: "AssetType=AzureTable;AccountName=acct"
    supportedDataTypes: [Browse, Location]
    supportedSubjectTypes: [aad, msa]
    supportedCommandTypes: [delete, export]
    supportedCloudInstances: [Public]
    variantInfosAppliedByAgents:
      - variantId: variant-9
        assetGroupId: ag-1
        applicableDataTypeIds: [Browse]
        isAgentApplied: true
`

func TestFileLoader_Load(t *testing.T) {
	t.Run("parses a valid feed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feed.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o600))

		loader := &FileLoader{Path: path}
		m, err := loader.Load(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(7), m.Version())
		ag, ok := m.AssetGroup("ag-1")
		require.True(t, ok)
		assert.True(t, ag.SupportsDataType("Browse"))
		assert.True(t, ag.SupportsSubjectType(datatypes.SubjectTypeAad))
		require.Len(t, ag.VariantInfosAppliedByAgents, 1)
		assert.Equal(t, "variant-9", ag.VariantInfosAppliedByAgents[0].VariantID)
	})

	t.Run("missing file fails", func(t *testing.T) {
		loader := &FileLoader{Path: filepath.Join(t.TempDir(), "absent.yaml")}
		_, err := loader.Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid feed fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feed.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 0\n"), 0o600))

		loader := &FileLoader{Path: path}
		_, err := loader.Load(context.Background())
		assert.Error(t, err)
	})
}
