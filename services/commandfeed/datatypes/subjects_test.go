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

func TestSubjectJSON(t *testing.T) {
	t.Run("aad2 subject round trips home tenant", func(t *testing.T) {
		subject := &AadSubject2{
			AadSubject:   AadSubject{ObjectID: "obj", TenantID: "resource-tenant"},
			HomeTenantID: "home-tenant",
		}

		data, err := MarshalSubject(subject)
		require.NoError(t, err)

		decoded, err := UnmarshalSubject(data)
		require.NoError(t, err)

		aad2, ok := decoded.(*AadSubject2)
		require.True(t, ok, "expected an *AadSubject2, got %T", decoded)
		assert.Equal(t, "home-tenant", aad2.HomeTenantID)
		assert.Equal(t, "resource-tenant", aad2.TenantID)
		assert.Equal(t, SubjectTypeAad2, aad2.Kind())
	})

	t.Run("unknown subject type is rejected", func(t *testing.T) {
		_, err := UnmarshalSubject([]byte(`{"type":"alien","id":"x"}`))
		assert.Error(t, err)
	})

	t.Run("missing type is rejected", func(t *testing.T) {
		_, err := UnmarshalSubject([]byte(`{"puid":1}`))
		assert.Error(t, err)
	})
}

func TestSubjectValidate(t *testing.T) {
	cases := []struct {
		name    string
		subject Subject
		wantErr bool
	}{
		{"msa with puid", &MsaSubject{Puid: 123}, false},
		{"msa without puid", &MsaSubject{}, true},
		{"aad complete", &AadSubject{ObjectID: "o", TenantID: "t"}, false},
		{"aad missing tenant", &AadSubject{ObjectID: "o"}, true},
		{"aad2 missing home tenant", &AadSubject2{AadSubject: AadSubject{ObjectID: "o", TenantID: "t"}}, true},
		{"device with id", &DeviceSubject{GlobalDeviceID: 99}, false},
		{"device without id", &DeviceSubject{}, true},
		{"demographic with email", &DemographicSubject{EmailAddresses: []string{"a@b.test"}}, false},
		{"demographic empty", &DemographicSubject{PhoneNumbers: []string{"555"}}, true},
		{"employee with id", &MicrosoftEmployeeSubject{EmployeeID: "e-1"}, false},
		{"employee without id", &MicrosoftEmployeeSubject{}, true},
		{"non-windows device", &NonWindowsDeviceSubject{MacOsPlatformDeviceID: "mac-1"}, false},
		{"edge browser without id", &EdgeBrowserSubject{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.subject.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
