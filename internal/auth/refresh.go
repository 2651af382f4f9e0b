// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// RefreshToken is the stored record of an issued refresh token. Only a
// salted hash of the bearer value is kept.
type RefreshToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
	DeviceInfo map[string]string
}

// IsUsable reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshTokenRepository persists refresh tokens. Rows are never deleted.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error

	// ListLive returns at most limit usable tokens for an identity, newest first.
	ListLive(ctx context.Context, identityID ulid.ULID, now time.Time, limit int) ([]*RefreshToken, error)

	// Revoke marks one token revoked. Revoking a revoked token is a no-op.
	Revoke(ctx context.Context, id ulid.ULID, at time.Time) error

	// RevokeAll marks every unrevoked token of the identity revoked.
	RevokeAll(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error)
}
