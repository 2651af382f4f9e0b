// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

// RefreshTokenRepository implements auth.RefreshTokenRepository using
// PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	device, err := marshalJSON(token.DeviceInfo)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "marshal device info").
			Wrap(err)
	}

	_, err = conn(ctx, r.db).Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, created_at, device_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.TokenHash,
		token.ExpiresAt,
		token.RevokedAt,
		token.CreatedAt,
		device,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("identity_id", token.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// ListLive returns at most limit usable tokens, newest first. A limit of
// zero or less means no bound.
func (r *RefreshTokenRepository) ListLive(ctx context.Context, identityID ulid.ULID, now time.Time, limit int) ([]*auth.RefreshToken, error) {
	var bound *int
	if limit > 0 {
		bound = &limit
	}

	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at, device_info
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, identityID.String(), now, bound)
	if err != nil {
		return nil, oops.Code("REFRESH_QUERY_FAILED").
			With("operation", "list live refresh tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.RefreshToken
	for rows.Next() {
		var (
			token         auth.RefreshToken
			idStr, userID string
			device        []byte
		)
		if err := rows.Scan(&idStr, &userID, &token.TokenHash, &token.ExpiresAt,
			&token.RevokedAt, &token.CreatedAt, &device); err != nil {
			return nil, oops.Code("REFRESH_QUERY_FAILED").
				With("operation", "scan refresh token").
				Wrap(err)
		}
		if token.ID, err = parseID(idStr, "id"); err != nil {
			return nil, err
		}
		if token.IdentityID, err = parseID(userID, "user_id"); err != nil {
			return nil, err
		}
		if len(device) > 0 {
			if err := json.Unmarshal(device, &token.DeviceInfo); err != nil {
				return nil, oops.Code("REFRESH_QUERY_FAILED").
					With("operation", "unmarshal device info").
					With("id", idStr).
					Wrap(err)
			}
		}
		tokens = append(tokens, &token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_QUERY_FAILED").
			With("operation", "iterate refresh tokens").
			Wrap(err)
	}
	return tokens, nil
}

// Revoke marks one token revoked. The first revocation time is kept.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// RevokeAll marks every unrevoked token of the identity revoked.
func (r *RefreshTokenRepository) RevokeAll(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, identityID.String(), at)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke all refresh tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
