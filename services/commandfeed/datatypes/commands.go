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
	"time"
)

// MaxAgentStateLength caps the opaque agent state blob a command carries
// between checkpoints.
const MaxAgentStateLength = 1024

// =============================================================================
// Command Sum Type
// =============================================================================

// PrivacyCommand is one in-flight privacy operation targeted at a single
// asset group. Concrete commands are Delete, Export, AccountClose, and
// AgeOut; the wire encoding carries a "type" discriminator.
type PrivacyCommand interface {
	// Kind returns the stable command type identifier.
	Kind() CommandType

	// Header returns the shared fields, mutable in place. Applicability
	// evaluation and checkpoint responses update the header directly.
	Header() *CommandHeader

	// Validate checks the fields the command's kind requires.
	Validate() error
}

// CommandHeader carries the fields common to every privacy command.
type CommandHeader struct {
	// CommandID is globally unique; RequestBatchID groups commands that were
	// submitted together and is not unique.
	CommandID      string `json:"commandId"`
	RequestBatchID string `json:"requestBatchId,omitempty"`

	AgentID             string        `json:"agentId,omitempty"`
	AssetGroupID        string        `json:"assetGroupId,omitempty"`
	AssetGroupQualifier string        `json:"assetGroupQualifier,omitempty"`
	CloudInstance       CloudInstance `json:"cloudInstance,omitempty"`

	// LeaseReceipt proves current lease ownership and is superseded by the
	// receipt returned from every successful checkpoint.
	LeaseReceipt               string        `json:"leaseReceipt,omitempty"`
	ApproximateLeaseExpiration time.Time     `json:"approximateLeaseExpiration,omitempty"`
	LeaseDuration              time.Duration `json:"-"`

	Subject Subject `json:"-"`

	// AgentState round-trips unchanged between checkpoints unless the agent
	// overwrites it on a checkpoint call.
	AgentState        string    `json:"agentState,omitempty"`
	Verifier          string    `json:"verifier,omitempty"`
	CorrelationVector string    `json:"correlationVector,omitempty"`
	Timestamp         time.Time `json:"timestamp,omitempty"`

	// Applicability outputs, populated by the evaluator.
	ApplicableVariants   []string `json:"applicableVariants,omitempty"`
	ProcessorApplicable  bool     `json:"processorApplicable,omitempty"`
	ControllerApplicable bool     `json:"controllerApplicable,omitempty"`
}

func (h *CommandHeader) validateBase() error {
	if h.CommandID == "" {
		return errors.New("command requires a commandId")
	}
	if h.Subject == nil {
		return errors.New("command requires a subject")
	}
	if err := h.Subject.Validate(); err != nil {
		return fmt.Errorf("invalid %s subject: %w", h.Subject.Kind(), err)
	}
	if len(h.AgentState) > MaxAgentStateLength {
		return fmt.Errorf("agent state exceeds %d bytes", MaxAgentStateLength)
	}
	return nil
}

// ResolvedCloudInstance returns the command's cloud instance with the
// default applied: unset means Public.
func (h *CommandHeader) ResolvedCloudInstance() CloudInstance {
	return h.CloudInstance.Canonical()
}

// TimeRangePredicate bounds a delete to data created inside a window.
type TimeRangePredicate struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// DeleteCommand requests deletion of a single data type, optionally scoped
// by a data-type-specific predicate and a time range.
type DeleteCommand struct {
	CommandHeader
	PrivacyDataType    string             `json:"privacyDataType"`
	DataTypePredicate  json.RawMessage    `json:"predicate,omitempty"`
	TimeRangePredicate TimeRangePredicate `json:"timeRangePredicate"`
}

func (c *DeleteCommand) Kind() CommandType      { return CommandTypeDelete }
func (c *DeleteCommand) Header() *CommandHeader { return &c.CommandHeader }

func (c *DeleteCommand) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.PrivacyDataType == "" {
		return errors.New("delete command requires a privacyDataType")
	}
	if c.TimeRangePredicate.EndTime.IsZero() {
		return errors.New("delete command requires a timeRangePredicate")
	}
	return nil
}

// ExportCommand requests export of one or more data types to a destination
// the upstream pipeline provisions.
type ExportCommand struct {
	CommandHeader
	PrivacyDataTypes []string `json:"privacyDataTypes"`
	DestinationURI   string   `json:"azureBlobContainerTargetUri,omitempty"`
	DestinationPath  string   `json:"azureBlobContainerPath,omitempty"`
}

func (c *ExportCommand) Kind() CommandType      { return CommandTypeExport }
func (c *ExportCommand) Header() *CommandHeader { return &c.CommandHeader }

func (c *ExportCommand) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if len(c.PrivacyDataTypes) == 0 {
		return errors.New("export command requires at least one privacyDataType")
	}
	return nil
}

// AccountCloseCommand requests cleanup after a subject's account is closed.
// It carries only the base fields.
type AccountCloseCommand struct {
	CommandHeader
}

func (c *AccountCloseCommand) Kind() CommandType      { return CommandTypeAccountClose }
func (c *AccountCloseCommand) Header() *CommandHeader { return &c.CommandHeader }
func (c *AccountCloseCommand) Validate() error        { return c.validateBase() }

// AgeOutCommand requests cleanup of a dormant account.
type AgeOutCommand struct {
	CommandHeader
	LastActive  *time.Time `json:"lastActive,omitempty"`
	IsSuspended bool       `json:"isSuspended,omitempty"`
}

func (c *AgeOutCommand) Kind() CommandType      { return CommandTypeAgeOut }
func (c *AgeOutCommand) Header() *CommandHeader { return &c.CommandHeader }

func (c *AgeOutCommand) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.LastActive == nil {
		return errors.New("ageout command requires a lastActive time")
	}
	return nil
}

// =============================================================================
// Polymorphic JSON
// =============================================================================

type commandEnvelope struct {
	Type string `json:"type"`
}

// MarshalCommand encodes a command with its "type" discriminator and its
// subject's discriminated form inlined under "subject".
func MarshalCommand(cmd PrivacyCommand) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("nil command")
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", cmd.Kind()))
	if cmd.Header().Subject != nil {
		subject, err := MarshalSubject(cmd.Header().Subject)
		if err != nil {
			return nil, fmt.Errorf("encoding subject: %w", err)
		}
		fields["subject"] = subject
	}
	return json.Marshal(fields)
}

// UnmarshalCommand decodes a command from its discriminated JSON form. The
// cloud instance defaults to Public when absent.
func UnmarshalCommand(data []byte) (PrivacyCommand, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding command envelope: %w", err)
	}
	kind, err := ParseCommandType(env.Type)
	if err != nil {
		return nil, err
	}

	var cmd PrivacyCommand
	switch kind {
	case CommandTypeDelete:
		cmd = &DeleteCommand{}
	case CommandTypeExport:
		cmd = &ExportCommand{}
	case CommandTypeAccountClose:
		cmd = &AccountCloseCommand{}
	case CommandTypeAgeOut:
		cmd = &AgeOutCommand{}
	default:
		return nil, fmt.Errorf("unrecognized command type %q", env.Type)
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decoding %s command: %w", kind, err)
	}

	var subjectField struct {
		Subject json.RawMessage `json:"subject"`
	}
	if err := json.Unmarshal(data, &subjectField); err != nil {
		return nil, err
	}
	if len(subjectField.Subject) > 0 {
		subject, err := UnmarshalSubject(subjectField.Subject)
		if err != nil {
			return nil, err
		}
		cmd.Header().Subject = subject
	}
	cmd.Header().CloudInstance = cmd.Header().CloudInstance.Canonical()
	return cmd, nil
}
