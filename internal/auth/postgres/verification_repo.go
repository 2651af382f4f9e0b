// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

// VerificationTokenRepository implements auth.VerificationTokenRepository
// using PostgreSQL.
type VerificationTokenRepository struct {
	db DB
}

// Compile-time interface check.
var _ auth.VerificationTokenRepository = (*VerificationTokenRepository)(nil)

// NewVerificationTokenRepository creates a new VerificationTokenRepository.
func NewVerificationTokenRepository(db DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

// Create stores a new token. A duplicate code leaves the surrounding
// transaction usable so the caller can retry with another code.
func (r *VerificationTokenRepository) Create(ctx context.Context, token *auth.VerificationToken) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO email_verification_tokens (id, user_id, code, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO NOTHING
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.Code,
		token.ExpiresAt,
		token.UsedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("VERIFICATION_CREATE_FAILED").
			With("operation", "insert verification token").
			With("identity_id", token.IdentityID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("VERIFICATION_CODE_CONFLICT").
			With("identity_id", token.IdentityID.String()).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// Latest returns the newest token for an identity in any state.
func (r *VerificationTokenRepository) Latest(ctx context.Context, identityID ulid.ULID) (*auth.VerificationToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, code, expires_at, used_at, created_at
		FROM email_verification_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, identityID.String())

	token, err := scanVerificationToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_GET_FAILED").
			With("operation", "get latest verification token").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return token, nil
}

// SupersedeUnused marks every unused token of the identity as used.
func (r *VerificationTokenRepository) SupersedeUnused(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE email_verification_tokens
		SET used_at = $2
		WHERE user_id = $1 AND used_at IS NULL
	`, identityID.String(), at)
	if err != nil {
		return 0, oops.Code("VERIFICATION_SUPERSEDE_FAILED").
			With("operation", "supersede unused tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// ConsumeLive marks the live token with code as used in a single statement,
// so two concurrent redemptions cannot both succeed.
func (r *VerificationTokenRepository) ConsumeLive(ctx context.Context, code string, now time.Time) (ulid.ULID, error) {
	var idStr string
	err := conn(ctx, r.db).QueryRow(ctx, `
		UPDATE email_verification_tokens
		SET used_at = $2
		WHERE code = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`, code, now).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("VERIFICATION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("VERIFICATION_CONSUME_FAILED").
			With("operation", "consume verification token").
			Wrap(err)
	}
	return parseID(idStr, "user_id")
}

// DeleteExpiredBefore removes tokens that expired before cutoff.
func (r *VerificationTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM email_verification_tokens WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("VERIFICATION_PRUNE_FAILED").
			With("operation", "delete expired tokens").
			With("cutoff", cutoff).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanVerificationToken(row pgx.Row) (*auth.VerificationToken, error) {
	var (
		token         auth.VerificationToken
		idStr, userID string
	)
	err := row.Scan(&idStr, &userID, &token.Code, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map pgx.ErrNoRows
	}
	if token.ID, err = parseID(idStr, "id"); err != nil {
		return nil, err
	}
	if token.IdentityID, err = parseID(userID, "user_id"); err != nil {
		return nil, err
	}
	return &token, nil
}
