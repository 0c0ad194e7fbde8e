// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the privacy command model: command and subject
// sum types, asset group reference data, command-history records, and the
// wire contracts served by the command feed endpoints.
//
// # Description
//
// Commands and subjects are polymorphic over a JSON "type" discriminator.
// Enumerations compare by stable identifier, never by reference; cloud
// instance names compare case-insensitively.
//
// # Thread Safety
//
// All types here are plain values. Asset group and agent records are treated
// as immutable once published in a map snapshot.
package datatypes

import (
	"fmt"
	"strings"
)

// =============================================================================
// Command Types
// =============================================================================

// CommandType identifies the privacy operation a command requests.
type CommandType string

const (
	CommandTypeDelete       CommandType = "delete"
	CommandTypeExport       CommandType = "export"
	CommandTypeAccountClose CommandType = "accountclose"
	CommandTypeAgeOut       CommandType = "ageout"
)

// ParseCommandType resolves a wire string to a CommandType.
//
// # Inputs
//
//   - s: the raw value, matched case-insensitively.
//
// # Outputs
//
//   - CommandType: the parsed type.
//   - error: non-nil when s is not a recognized command type.
func ParseCommandType(s string) (CommandType, error) {
	switch CommandType(strings.ToLower(strings.TrimSpace(s))) {
	case CommandTypeDelete:
		return CommandTypeDelete, nil
	case CommandTypeExport:
		return CommandTypeExport, nil
	case CommandTypeAccountClose:
		return CommandTypeAccountClose, nil
	case CommandTypeAgeOut:
		return CommandTypeAgeOut, nil
	default:
		return "", fmt.Errorf("unrecognized command type %q", s)
	}
}

// =============================================================================
// Subject Types
// =============================================================================

// SubjectType identifies the category of data subject a command targets.
type SubjectType string

const (
	SubjectTypeMsa               SubjectType = "msa"
	SubjectTypeAad               SubjectType = "aad"
	SubjectTypeAad2              SubjectType = "aad2"
	SubjectTypeDevice            SubjectType = "device"
	SubjectTypeDemographic       SubjectType = "demographic"
	SubjectTypeMicrosoftEmployee SubjectType = "microsoftemployee"
	SubjectTypeNonWindowsDevice  SubjectType = "nonwindowsdevice"
	SubjectTypeEdgeBrowser       SubjectType = "edgebrowser"
)

// ParseSubjectType resolves a wire string to a SubjectType.
func ParseSubjectType(s string) (SubjectType, error) {
	switch SubjectType(strings.ToLower(strings.TrimSpace(s))) {
	case SubjectTypeMsa:
		return SubjectTypeMsa, nil
	case SubjectTypeAad:
		return SubjectTypeAad, nil
	case SubjectTypeAad2:
		return SubjectTypeAad2, nil
	case SubjectTypeDevice:
		return SubjectTypeDevice, nil
	case SubjectTypeDemographic:
		return SubjectTypeDemographic, nil
	case SubjectTypeMicrosoftEmployee:
		return SubjectTypeMicrosoftEmployee, nil
	case SubjectTypeNonWindowsDevice:
		return SubjectTypeNonWindowsDevice, nil
	case SubjectTypeEdgeBrowser:
		return SubjectTypeEdgeBrowser, nil
	default:
		return "", fmt.Errorf("unrecognized subject type %q", s)
	}
}

// =============================================================================
// Command Status
// =============================================================================

// CommandStatus is the per-asset-group processing state reported at
// checkpoint time. Failed is the only status with a retry edge back to
// Pending; every other non-Pending status is terminal for the asset group.
type CommandStatus string

const (
	StatusPending                       CommandStatus = "pending"
	StatusComplete                      CommandStatus = "complete"
	StatusFailed                        CommandStatus = "failed"
	StatusSoftDelete                    CommandStatus = "softdelete"
	StatusDeidentify                    CommandStatus = "deidentify"
	StatusUnexpectedCommand             CommandStatus = "unexpectedcommand"
	StatusVerificationFailed            CommandStatus = "verificationfailed"
	StatusUnexpectedVerificationFailure CommandStatus = "unexpectedverificationfailure"
	StatusUnsupportedCloudInstance      CommandStatus = "unsupportedcloudinstance"
)

// ParseCommandStatus resolves a wire string to a CommandStatus.
func ParseCommandStatus(s string) (CommandStatus, error) {
	switch CommandStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusComplete:
		return StatusComplete, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusSoftDelete:
		return StatusSoftDelete, nil
	case StatusDeidentify:
		return StatusDeidentify, nil
	case StatusUnexpectedCommand:
		return StatusUnexpectedCommand, nil
	case StatusVerificationFailed:
		return StatusVerificationFailed, nil
	case StatusUnexpectedVerificationFailure:
		return StatusUnexpectedVerificationFailure, nil
	case StatusUnsupportedCloudInstance:
		return StatusUnsupportedCloudInstance, nil
	default:
		return "", fmt.Errorf("unrecognized command status %q", s)
	}
}

// IsTerminal reports whether the status ends processing for the asset group.
// Pending keeps the lease open and Failed re-pends for a later retry.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case StatusPending, StatusFailed:
		return false
	default:
		return true
	}
}

// =============================================================================
// Cloud Instances
// =============================================================================

// CloudInstance names the cloud a command or asset group belongs to.
// Comparisons are case-insensitive; Canonical() normalizes for storage.
type CloudInstance string

const (
	CloudInstancePublic        CloudInstance = "Public"
	CloudInstanceAzureMoonCake CloudInstance = "AzureMoonCake"
	CloudInstanceAzureFairfax  CloudInstance = "AzureFairfax"
)

// SovereignCloudInstances lists the non-public members of the closed set.
// Additional sovereign entries may be supplied dynamically through the
// evaluator's cloud configuration.
var SovereignCloudInstances = []CloudInstance{
	CloudInstanceAzureMoonCake,
	CloudInstanceAzureFairfax,
}

// Equal compares two cloud instance names case-insensitively.
func (c CloudInstance) Equal(other CloudInstance) bool {
	return strings.EqualFold(string(c), string(other))
}

// IsPublic reports whether c names the public cloud. Empty counts as public
// because unset cloud instances default to Public.
func (c CloudInstance) IsPublic() bool {
	return c == "" || c.Equal(CloudInstancePublic)
}

// Canonical returns the well-known casing for members of the closed set and
// the input unchanged for dynamically-configured sovereign clouds.
func (c CloudInstance) Canonical() CloudInstance {
	if c.IsPublic() {
		return CloudInstancePublic
	}
	for _, known := range SovereignCloudInstances {
		if c.Equal(known) {
			return known
		}
	}
	return c
}

// =============================================================================
// Agent Readiness
// =============================================================================

// AgentReadinessState distinguishes production agents from test-in-prod
// agents whose completions are advisory rather than authoritative.
type AgentReadinessState string

const (
	ReadinessProduction AgentReadinessState = "production"
	ReadinessTestInProd AgentReadinessState = "testinprod"
)
