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
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// Subject Sum Type
// =============================================================================

// Subject is the data subject a privacy command targets. Concrete subjects
// are dispatched by Kind(); wire encoding carries a "type" discriminator.
type Subject interface {
	// Kind returns the stable subject type identifier.
	Kind() SubjectType

	// Validate checks that the subject carries the fields its kind requires.
	Validate() error
}

// MsaSubject identifies a consumer (MSA) account.
type MsaSubject struct {
	Puid int64  `json:"puid"`
	Anid string `json:"anid,omitempty"`
	Cid  int64  `json:"cid,omitempty"`
	Opid string `json:"opid,omitempty"`
	Xuid string `json:"xuid,omitempty"`
}

func (s *MsaSubject) Kind() SubjectType { return SubjectTypeMsa }

func (s *MsaSubject) Validate() error {
	if s.Puid == 0 {
		return errors.New("msa subject requires a puid")
	}
	return nil
}

// AadSubject identifies a work or school (AAD) account within one tenant.
type AadSubject struct {
	ObjectID  string `json:"objectId"`
	TenantID  string `json:"tenantId"`
	OrgIDPuid int64  `json:"orgIdPuid,omitempty"`
}

func (s *AadSubject) Kind() SubjectType { return SubjectTypeAad }

func (s *AadSubject) Validate() error {
	if s.ObjectID == "" {
		return errors.New("aad subject requires an objectId")
	}
	if s.TenantID == "" {
		return errors.New("aad subject requires a tenantId")
	}
	return nil
}

// AadSubject2 extends AadSubject with home-tenant information for multi-tenant
// (resource tenant) scenarios. Asset groups must opt into receiving these.
type AadSubject2 struct {
	AadSubject
	HomeTenantID string `json:"homeTenantId"`
	TenantIDType string `json:"tenantIdType,omitempty"`
}

func (s *AadSubject2) Kind() SubjectType { return SubjectTypeAad2 }

func (s *AadSubject2) Validate() error {
	if err := s.AadSubject.Validate(); err != nil {
		return err
	}
	if s.HomeTenantID == "" {
		return errors.New("aad2 subject requires a homeTenantId")
	}
	return nil
}

// DeviceSubject identifies a Windows device.
type DeviceSubject struct {
	GlobalDeviceID int64  `json:"globalDeviceId"`
	XboxConsoleID  string `json:"xboxConsoleId,omitempty"`
}

func (s *DeviceSubject) Kind() SubjectType { return SubjectTypeDevice }

func (s *DeviceSubject) Validate() error {
	if s.GlobalDeviceID == 0 {
		return errors.New("device subject requires a globalDeviceId")
	}
	return nil
}

// DemographicSubject identifies a person by alternate identifiers when no
// account id exists. At least one name or email address is required.
type DemographicSubject struct {
	Names          []string `json:"names,omitempty"`
	EmailAddresses []string `json:"emailAddresses,omitempty"`
	PhoneNumbers   []string `json:"phoneNumbers,omitempty"`
	Addresses      []string `json:"addresses,omitempty"`
}

func (s *DemographicSubject) Kind() SubjectType { return SubjectTypeDemographic }

func (s *DemographicSubject) Validate() error {
	if len(s.Names) == 0 && len(s.EmailAddresses) == 0 {
		return errors.New("demographic subject requires at least one name or email address")
	}
	return nil
}

// MicrosoftEmployeeSubject identifies a current or former employee.
type MicrosoftEmployeeSubject struct {
	EmployeeID     string   `json:"employeeId"`
	EmailAddresses []string `json:"emailAddresses,omitempty"`
	StartDate      string   `json:"startDate,omitempty"`
	EndDate        string   `json:"endDate,omitempty"`
}

func (s *MicrosoftEmployeeSubject) Kind() SubjectType { return SubjectTypeMicrosoftEmployee }

func (s *MicrosoftEmployeeSubject) Validate() error {
	if s.EmployeeID == "" {
		return errors.New("employee subject requires an employeeId")
	}
	return nil
}

// NonWindowsDeviceSubject identifies a device by a platform-specific id.
type NonWindowsDeviceSubject struct {
	MacOsPlatformDeviceID string `json:"macOsPlatformDeviceId"`
}

func (s *NonWindowsDeviceSubject) Kind() SubjectType { return SubjectTypeNonWindowsDevice }

func (s *NonWindowsDeviceSubject) Validate() error {
	if s.MacOsPlatformDeviceID == "" {
		return errors.New("non-windows device subject requires a platform device id")
	}
	return nil
}

// EdgeBrowserSubject identifies an Edge browser installation.
type EdgeBrowserSubject struct {
	EdgeBrowserID int64 `json:"edgeBrowserId"`
}

func (s *EdgeBrowserSubject) Kind() SubjectType { return SubjectTypeEdgeBrowser }

func (s *EdgeBrowserSubject) Validate() error {
	if s.EdgeBrowserID == 0 {
		return errors.New("edge browser subject requires an edgeBrowserId")
	}
	return nil
}

// =============================================================================
// Polymorphic JSON
// =============================================================================

type subjectEnvelope struct {
	Type string `json:"type"`
}

// MarshalSubject encodes a subject with its "type" discriminator inlined next
// to the subject fields.
func MarshalSubject(s Subject) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil subject")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", s.Kind()))
	return json.Marshal(fields)
}

// UnmarshalSubject decodes a subject from its discriminated JSON form.
//
// # Outputs
//
//   - Subject: the concrete subject for the "type" field.
//   - error: non-nil when the type is missing, unknown, or the payload does
//     not decode.
func UnmarshalSubject(data []byte) (Subject, error) {
	var env subjectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding subject envelope: %w", err)
	}
	kind, err := ParseSubjectType(env.Type)
	if err != nil {
		return nil, err
	}

	var subject Subject
	switch kind {
	case SubjectTypeMsa:
		subject = &MsaSubject{}
	case SubjectTypeAad:
		subject = &AadSubject{}
	case SubjectTypeAad2:
		subject = &AadSubject2{}
	case SubjectTypeDevice:
		subject = &DeviceSubject{}
	case SubjectTypeDemographic:
		subject = &DemographicSubject{}
	case SubjectTypeMicrosoftEmployee:
		subject = &MicrosoftEmployeeSubject{}
	case SubjectTypeNonWindowsDevice:
		subject = &NonWindowsDeviceSubject{}
	case SubjectTypeEdgeBrowser:
		subject = &EdgeBrowserSubject{}
	default:
		return nil, fmt.Errorf("unrecognized subject type %q", env.Type)
	}
	if err := json.Unmarshal(data, subject); err != nil {
		return nil, fmt.Errorf("decoding %s subject: %w", kind, err)
	}
	return subject, nil
}
