// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

const identityColumns = `id, username, email, password_hash, is_verified, is_active,
		       tier, created_at, updated_at, last_login`

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db DB
}

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (
			id, username, email, password_hash, is_verified, is_active,
			tier, created_at, updated_at, last_login
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		identity.ID.String(),
		identity.Username,
		identity.Email,
		identity.PasswordHash,
		identity.IsVerified,
		identity.IsActive,
		string(identity.Tier),
		identity.CreatedAt,
		identity.UpdatedAt,
		identity.LastLogin,
	)
	if field, ok := uniqueViolation(err); ok {
		return oops.Code("IDENTITY_CONFLICT").
			With(auth.KeyConflictField, field).
			With("username", identity.Username).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("username", identity.Username).
			Wrap(err)
	}
	return nil
}

// uniqueViolation reports whether err is a unique violation and which
// column caused it, derived from the constraint name.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return "email", true
	case strings.Contains(pgErr.ConstraintName, "username"):
		return "username", true
	default:
		return pgErr.ConstraintName, true
	}
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM users
		WHERE id = $1
	`, id.String())
	return r.get(row, "id", id.String())
}

// GetByEmail retrieves an identity by normalized email.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return r.get(row, "email", email)
}

// GetByUsername retrieves an identity by normalized username.
func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM users
		WHERE username = $1
	`, username)
	return r.get(row, "username", username)
}

func (r *IdentityRepository) get(row pgx.Row, key, value string) (*auth.Identity, error) {
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by "+key).
			With(key, value).
			Wrap(err)
	}
	return identity, nil
}

// TakenUsernames returns the subset of candidates already in use.
func (r *IdentityRepository) TakenUsernames(ctx context.Context, candidates []string) (map[string]bool, error) {
	taken := make(map[string]bool)
	if len(candidates) == 0 {
		return taken, nil
	}

	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT username FROM users WHERE username = ANY($1)
	`, candidates)
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "query taken usernames").
			Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, oops.Code("IDENTITY_QUERY_FAILED").
				With("operation", "scan username").
				Wrap(err)
		}
		taken[username] = true
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "iterate usernames").
			Wrap(err)
	}
	return taken, nil
}

// Lock takes a row lock on the identity until the surrounding transaction
// ends. Outside a transaction the lock is released immediately.
func (r *IdentityRepository) Lock(ctx context.Context, id ulid.ULID) error {
	var locked string
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id FROM users WHERE id = $1 FOR UPDATE
	`, id.String()).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("IDENTITY_LOCK_FAILED").
			With("operation", "lock identity").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// MarkVerified sets is_verified.
func (r *IdentityRepository) MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, id, "mark verified", `
		UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1
	`, at)
}

// TouchLastLogin records a successful login.
func (r *IdentityRepository) TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, id, "touch last login", `
		UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1
	`, at)
}

// UpdatePasswordHash replaces the stored hash.
func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error {
	return r.update(ctx, id, "update password hash", `
		UPDATE users SET password_hash = $3, updated_at = $2 WHERE id = $1
	`, at, hash)
}

func (r *IdentityRepository) update(ctx context.Context, id ulid.ULID, operation, sql string, args ...any) error {
	result, err := conn(ctx, r.db).Exec(ctx, sql, append([]any{id.String()}, args...)...)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		identity auth.Identity
		idStr    string
		tier     string
	)
	err := row.Scan(
		&idStr,
		&identity.Username,
		&identity.Email,
		&identity.PasswordHash,
		&identity.IsVerified,
		&identity.IsActive,
		&tier,
		&identity.CreatedAt,
		&identity.UpdatedAt,
		&identity.LastLogin,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map pgx.ErrNoRows
	}

	if identity.ID, err = parseID(idStr, "id"); err != nil {
		return nil, err
	}
	identity.Tier = auth.Tier(tier)
	return &identity, nil
}
