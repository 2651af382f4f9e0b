// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username and password limits.
const (
	UsernameMinLength = 3
	UsernameMaxLength = 50
	PasswordMinLength = 8
	PasswordMaxLength = 100
	EmailMaxLength    = 255
)

// Tier is the subscription level of an identity.
type Tier string

// Tiers.
const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Identity is a registered user account.
type Identity struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	IsVerified   bool
	IsActive     bool
	Tier         Tier
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}

// NewIdentity creates an unverified, active, free-tier identity.
// username and email must already be normalized and validated.
func NewIdentity(username, email, passwordHash string, now time.Time) (*Identity, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("IDENTITY_INVALID").Errorf("password hash cannot be empty")
	}
	return &Identity{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		Tier:         TierFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeUsername case-folds and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail case-folds and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername checks a normalized username.
func ValidateUsername(username string) error {
	err := validation.Validate(username,
		validation.Required,
		validation.RuneLength(UsernameMinLength, UsernameMaxLength),
		validation.Match(usernamePattern).Error("must contain only letters, numbers and underscores"),
	)
	return fieldError("username", err)
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	err := validation.Validate(email,
		validation.Required,
		validation.Length(3, EmailMaxLength),
		is.Email,
	)
	return fieldError("email", err)
}

var passwordComplexity = validation.NewStringRule(func(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}, "must contain an uppercase letter, a lowercase letter and a digit")

// ValidatePassword checks a plaintext password against the strength rules.
func ValidatePassword(password string) error {
	err := validation.Validate(password,
		validation.Required,
		validation.RuneLength(PasswordMinLength, PasswordMaxLength),
		passwordComplexity,
	)
	return fieldError("password", err)
}

func fieldError(field string, err error) error {
	if err == nil {
		return nil
	}
	return oops.Code(CodeValidationFailed).
		With(KeyFields, map[string]string{field: err.Error()}).
		Errorf("%s %s", field, err.Error())
}

// IdentityRepository persists identities.
type IdentityRepository interface {
	// Create stores a new identity. A uniqueness violation is reported as
	// ErrConflict with the offending column under the "field" context key.
	Create(ctx context.Context, identity *Identity) error

	// GetByID returns ErrNotFound when no identity has id.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail looks up a normalized email. Returns ErrNotFound on miss.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// GetByUsername looks up a normalized username. Returns ErrNotFound on miss.
	GetByUsername(ctx context.Context, username string) (*Identity, error)

	// TakenUsernames returns the subset of candidates already in use.
	TakenUsernames(ctx context.Context, candidates []string) (map[string]bool, error)

	// Lock serializes concurrent writers for one identity until the
	// surrounding transaction ends.
	Lock(ctx context.Context, id ulid.ULID) error

	// MarkVerified sets is_verified.
	MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error

	// TouchLastLogin records a successful login.
	TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdatePasswordHash replaces the stored hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error
}

// KeyConflictField names the column that triggered ErrConflict.
const KeyConflictField = "field"
