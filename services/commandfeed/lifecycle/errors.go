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
	"errors"
	"fmt"
)

// =============================================================================
// Checkpoint Errors
// =============================================================================

// ErrorCode classifies checkpoint rejections for agents and metrics.
type ErrorCode string

const (
	CodeMalformedReceipt      ErrorCode = "malformedLeaseReceipt"
	CodeLeaseExpired          ErrorCode = "leaseExpired"
	CodeLeaseConflict         ErrorCode = "leaseConflict"
	CodeAgentMismatch         ErrorCode = "agentMismatch"
	CodeCommandMismatch       ErrorCode = "commandMismatch"
	CodeCommandNotFound       ErrorCode = "commandNotFound"
	CodeCommandExpired        ErrorCode = "commandExpired"
	CodeAlreadyCompleted      ErrorCode = "alreadyCompleted"
	CodeInvalidStatus         ErrorCode = "invalidStatus"
	CodeInvalidVariants       ErrorCode = "invalidVariants"
	CodeAgentStateTooLarge    ErrorCode = "agentStateTooLarge"
	CodeInvalidLeaseExtension ErrorCode = "invalidLeaseExtension"
	CodeInvalidCommand        ErrorCode = "invalidCommand"
	CodeMapUnavailable        ErrorCode = "agentMapUnavailable"
)

// Error is a classified lifecycle failure. The code is stable wire surface;
// the message is free-form detail.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, or empty when err is not a lifecycle
// error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
