// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

// NewStore wires every repository and the transactor around db.
func NewStore(db DB) auth.Store {
	return auth.Store{
		Identities:    NewIdentityRepository(db),
		Verifications: NewVerificationTokenRepository(db),
		RefreshTokens: NewRefreshTokenRepository(db),
		Activity:      NewActivityRepository(db),
		Tx:            NewTransactor(db),
	}
}

func parseID(raw, field string) (ulid.ULID, error) {
	id, err := ulid.Parse(raw)
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "parse "+field).With(field, raw).Wrap(err)
	}
	return id, nil
}

// marshalJSON encodes v for a nullable JSONB column. Empty maps store NULL.
func marshalJSON[M ~map[K]V, K comparable, V any](v M) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
