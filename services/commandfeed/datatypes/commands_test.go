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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Polymorphic Command JSON Tests
// =============================================================================

func TestCommandJSON_RoundTrip(t *testing.T) {
	t.Run("delete command round trips with subject", func(t *testing.T) {
		end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		cmd := &DeleteCommand{
			CommandHeader: CommandHeader{
				CommandID:     "cmd-001",
				AssetGroupID:  "ag-001",
				CloudInstance: CloudInstancePublic,
				Subject:       &AadSubject{ObjectID: "obj-1", TenantID: "tenant-1"},
			},
			PrivacyDataType:    "Browse",
			TimeRangePredicate: TimeRangePredicate{EndTime: end},
		}

		data, err := MarshalCommand(cmd)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"delete"`)

		decoded, err := UnmarshalCommand(data)
		require.NoError(t, err)

		del, ok := decoded.(*DeleteCommand)
		require.True(t, ok, "expected a *DeleteCommand, got %T", decoded)
		assert.Equal(t, "cmd-001", del.CommandID)
		assert.Equal(t, "Browse", del.PrivacyDataType)
		assert.True(t, del.TimeRangePredicate.EndTime.Equal(end))

		aad, ok := del.Subject.(*AadSubject)
		require.True(t, ok, "expected an *AadSubject, got %T", del.Subject)
		assert.Equal(t, "tenant-1", aad.TenantID)
	})

	t.Run("export command round trips data types", func(t *testing.T) {
		cmd := &ExportCommand{
			CommandHeader: CommandHeader{
				CommandID: "cmd-002",
				Subject:   &MsaSubject{Puid: 42},
			},
			PrivacyDataTypes: []string{"Browse", "Location"},
			DestinationURI:   "https://example.test/container",
		}

		data, err := MarshalCommand(cmd)
		require.NoError(t, err)

		decoded, err := UnmarshalCommand(data)
		require.NoError(t, err)

		exp, ok := decoded.(*ExportCommand)
		require.True(t, ok)
		assert.Equal(t, []string{"Browse", "Location"}, exp.PrivacyDataTypes)
		assert.Equal(t, "https://example.test/container", exp.DestinationURI)
	})

	t.Run("cloud instance defaults to public when absent", func(t *testing.T) {
		raw := `{"type":"accountclose","commandId":"cmd-003","subject":{"type":"msa","puid":7}}`

		decoded, err := UnmarshalCommand([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, CloudInstancePublic, decoded.Header().CloudInstance)
	})

	t.Run("unknown command type is rejected", func(t *testing.T) {
		_, err := UnmarshalCommand([]byte(`{"type":"purge","commandId":"cmd-004"}`))
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "purge"))
	})

	t.Run("ageout command keeps lastActive", func(t *testing.T) {
		last := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
		cmd := &AgeOutCommand{
			CommandHeader: CommandHeader{
				CommandID: "cmd-005",
				Subject:   &MsaSubject{Puid: 9},
			},
			LastActive:  &last,
			IsSuspended: true,
		}

		data, err := MarshalCommand(cmd)
		require.NoError(t, err)

		decoded, err := UnmarshalCommand(data)
		require.NoError(t, err)

		ageOut, ok := decoded.(*AgeOutCommand)
		require.True(t, ok)
		require.NotNil(t, ageOut.LastActive)
		assert.True(t, ageOut.LastActive.Equal(last))
		assert.True(t, ageOut.IsSuspended)
	})
}

func TestCommandValidate(t *testing.T) {
	t.Run("delete without data type fails", func(t *testing.T) {
		cmd := &DeleteCommand{
			CommandHeader: CommandHeader{
				CommandID: "cmd-1",
				Subject:   &MsaSubject{Puid: 1},
			},
			TimeRangePredicate: TimeRangePredicate{EndTime: time.Now()},
		}
		assert.Error(t, cmd.Validate())
	})

	t.Run("export without data types fails", func(t *testing.T) {
		cmd := &ExportCommand{
			CommandHeader: CommandHeader{
				CommandID: "cmd-2",
				Subject:   &MsaSubject{Puid: 1},
			},
		}
		assert.Error(t, cmd.Validate())
	})

	t.Run("account close needs only base fields", func(t *testing.T) {
		cmd := &AccountCloseCommand{
			CommandHeader: CommandHeader{
				CommandID: "cmd-3",
				Subject:   &MsaSubject{Puid: 1},
			},
		}
		assert.NoError(t, cmd.Validate())
	})

	t.Run("oversized agent state fails", func(t *testing.T) {
		cmd := &AccountCloseCommand{
			CommandHeader: CommandHeader{
				CommandID:  "cmd-4",
				Subject:    &MsaSubject{Puid: 1},
				AgentState: strings.Repeat("x", MaxAgentStateLength+1),
			},
		}
		assert.Error(t, cmd.Validate())
	})

	t.Run("missing subject fails", func(t *testing.T) {
		cmd := &AccountCloseCommand{
			CommandHeader: CommandHeader{CommandID: "cmd-5"},
		}
		assert.Error(t, cmd.Validate())
	})
}

func TestCommandStatus_IsTerminal(t *testing.T) {
	terminal := []CommandStatus{
		StatusComplete, StatusSoftDelete, StatusDeidentify,
		StatusUnexpectedCommand, StatusVerificationFailed,
		StatusUnexpectedVerificationFailure, StatusUnsupportedCloudInstance,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CommandStatus{StatusPending, StatusFailed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCloudInstance(t *testing.T) {
	t.Run("comparison is case-insensitive", func(t *testing.T) {
		assert.True(t, CloudInstance("public").Equal(CloudInstancePublic))
		assert.True(t, CloudInstance("AZUREFAIRFAX").Equal(CloudInstanceAzureFairfax))
	})

	t.Run("canonical normalizes known members", func(t *testing.T) {
		assert.Equal(t, CloudInstancePublic, CloudInstance("").Canonical())
		assert.Equal(t, CloudInstanceAzureMoonCake, CloudInstance("azuremooncake").Canonical())
		assert.Equal(t, CloudInstance("SomeSovereign"), CloudInstance("SomeSovereign").Canonical())
	})
}
