// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// VerificationCodeLength is the number of digits in a verification code.
const VerificationCodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// VerificationToken is a one-time code proving control of an email address.
//
// A token is Issued while UsedAt is nil and ExpiresAt is in the future.
// Consumption and supersession both set UsedAt; expiry is derived from
// ExpiresAt and never stored.
type VerificationToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	Code       string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// IsLive reports whether the token can still be redeemed at now.
func (t *VerificationToken) IsLive(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// GenerateVerificationCode draws a zero-padded six-digit code uniformly from
// r. Pass crypto/rand.Reader outside tests.
func GenerateVerificationCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", oops.Code("VERIFICATION_CODE_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%0*d", VerificationCodeLength, n.Int64()), nil
}

// VerificationTokenRepository persists verification tokens.
type VerificationTokenRepository interface {
	// Create stores a new token. A duplicate code is reported as ErrConflict.
	Create(ctx context.Context, token *VerificationToken) error

	// Latest returns the most recently created token for an identity in any
	// state, or ErrNotFound.
	Latest(ctx context.Context, identityID ulid.ULID) (*VerificationToken, error)

	// SupersedeUnused marks every unused token of the identity as used at at.
	SupersedeUnused(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error)

	// ConsumeLive marks the live token with code as used and returns its
	// identity. Returns ErrNotFound when no live token matches.
	ConsumeLive(ctx context.Context, code string, now time.Time) (ulid.ULID, error)

	// DeleteExpiredBefore removes tokens that expired before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
