// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// Transactor runs fn atomically. Repositories called with the context passed
// to fn take part in the transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the persistence capabilities the engine needs.
type Store struct {
	Identities    IdentityRepository
	Verifications VerificationTokenRepository
	RefreshTokens RefreshTokenRepository
	Activity      ActivityRepository
	Tx            Transactor
}

// Validate reports a missing capability.
func (s Store) Validate() error {
	switch {
	case s.Identities == nil:
		return oops.Code("STORE_INVALID").Errorf("identity repository is required")
	case s.Verifications == nil:
		return oops.Code("STORE_INVALID").Errorf("verification token repository is required")
	case s.RefreshTokens == nil:
		return oops.Code("STORE_INVALID").Errorf("refresh token repository is required")
	case s.Activity == nil:
		return oops.Code("STORE_INVALID").Errorf("activity repository is required")
	case s.Tx == nil:
		return oops.Code("STORE_INVALID").Errorf("transactor is required")
	}
	return nil
}
