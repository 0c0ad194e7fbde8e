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
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// =============================================================================
// Lease Receipts
// =============================================================================

// LeaseClaims is the payload of a lease receipt. The registered ID claim is
// the lease id; a receipt is honored only while its lease id matches the
// status record's current one, so every successful checkpoint invalidates
// all receipts issued before it.
type LeaseClaims struct {
	CommandID    string `json:"cmd"`
	AgentID      string `json:"agt"`
	AssetGroupID string `json:"ast"`
	CommandType  string `json:"ct"`
	Moniker      string `json:"mon,omitempty"`
	jwt.RegisteredClaims
}

// LeaseID returns the lease id the receipt was issued under.
func (c *LeaseClaims) LeaseID() string { return c.ID }

// LeaseIssuer signs and verifies lease receipts (HS256).
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type LeaseIssuer struct {
	key []byte
	now func() time.Time
}

// NewLeaseIssuer builds an issuer over a shared signing key.
func NewLeaseIssuer(key []byte) *LeaseIssuer {
	return &LeaseIssuer{key: key, now: time.Now}
}

// Issue signs a fresh lease receipt expiring at the given time.
//
// # Outputs
//
//   - string: the compact serialized receipt.
//   - string: the lease id embedded in it.
//   - error: signing failure.
func (i *LeaseIssuer) Issue(commandID, agentID, assetGroupID string, kind datatypes.CommandType, moniker string, expires time.Time) (string, string, error) {
	leaseID := uuid.NewString()
	claims := &LeaseClaims{
		CommandID:    commandID,
		AgentID:      agentID,
		AssetGroupID: assetGroupID,
		CommandType:  string(kind),
		Moniker:      moniker,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        leaseID,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	receipt, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", err
	}
	return receipt, leaseID, nil
}

// Parse verifies a receipt's signature and expiry and returns its claims.
// Failures are classified: an expired receipt is distinguishable from a
// forged or garbled one.
func (i *LeaseIssuer) Parse(receipt string) (*LeaseClaims, error) {
	return ParseReceipt(receipt, func(token *jwt.Token) (any, error) {
		return i.key, nil
	})
}

// ParseReceipt verifies a receipt against a caller-supplied key func. The
// key func hook allows key rotation and external verification services to
// plug in without changing checkpoint handling.
func ParseReceipt(receipt string, keyFunc jwt.Keyfunc) (*LeaseClaims, error) {
	claims := &LeaseClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(CodeLeaseExpired, "lease receipt expired")
		}
		return nil, newError(CodeMalformedReceipt, "lease receipt rejected: %v", err)
	}
	if claims.ID == "" || claims.CommandID == "" {
		return nil, newError(CodeMalformedReceipt, "lease receipt missing lease or command id")
	}
	return claims, nil
}

// =============================================================================
// Jitter
// =============================================================================

// jittered spreads a delay uniformly across +/- rate of its nominal value,
// so synchronized agents do not reconverge on the same instant. rnd yields
// uniform values in [0, 1).
func jittered(d time.Duration, rate float64, rnd func() float64) time.Duration {
	if rate <= 0 || d <= 0 {
		return d
	}
	factor := 1 + rate*(2*rnd()-1)
	return time.Duration(float64(d) * factor)
}
