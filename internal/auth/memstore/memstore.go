// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package memstore is an in-memory credential store for tests and local
// development. Transactions hold one store-wide lock and roll back by
// restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

type txKey struct{}

// Store holds every table in memory.
type Store struct {
	mu            sync.Mutex
	identities    map[ulid.ULID]auth.Identity
	verifications map[ulid.ULID]auth.VerificationToken
	refresh       map[ulid.ULID]auth.RefreshToken
	activity      []auth.Activity
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		identities:    make(map[ulid.ULID]auth.Identity),
		verifications: make(map[ulid.ULID]auth.VerificationToken),
		refresh:       make(map[ulid.ULID]auth.RefreshToken),
	}
}

// AuthStore returns the repositories bundled for the auth package.
func (s *Store) AuthStore() auth.Store {
	return auth.Store{
		Identities:    (*identityRepo)(s),
		Verifications: (*verificationRepo)(s),
		RefreshTokens: (*refreshRepo)(s),
		Activity:      (*activityRepo)(s),
		Tx:            s,
	}
}

// InTransaction runs fn under the store lock. If fn fails every write it
// made is discarded. Nested calls join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// lock acquires the store lock unless ctx already holds it through a
// transaction. The returned func releases it.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	identities    map[ulid.ULID]auth.Identity
	verifications map[ulid.ULID]auth.VerificationToken
	refresh       map[ulid.ULID]auth.RefreshToken
	activity      int
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		identities:    maps.Clone(s.identities),
		verifications: maps.Clone(s.verifications),
		refresh:       maps.Clone(s.refresh),
		activity:      len(s.activity),
	}
}

func (s *Store) restore(snap snapshot) {
	s.identities = snap.identities
	s.verifications = snap.verifications
	s.refresh = snap.refresh
	s.activity = s.activity[:snap.activity]
}

// Activity returns a copy of every recorded activity entry, oldest first.
func (s *Store) Activity() []auth.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Activity, len(s.activity))
	copy(out, s.activity)
	return out
}

// Verifications returns every verification token of identityID, oldest first.
func (s *Store) Verifications(identityID ulid.ULID) []auth.VerificationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.VerificationToken
	for _, t := range s.verifications {
		if t.IdentityID == identityID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// RefreshTokens returns every refresh token of identityID, oldest first.
func (s *Store) RefreshTokens(identityID ulid.ULID) []auth.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.RefreshToken
	for _, t := range s.refresh {
		if t.IdentityID == identityID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// SetActive flips the active flag, for tests of deactivated accounts.
func (s *Store) SetActive(identityID ulid.ULID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return oops.Code("IDENTITY_NOT_FOUND").With("identity_id", identityID.String()).Wrap(auth.ErrNotFound)
	}
	ident.IsActive = active
	s.identities[identityID] = ident
	return nil
}

type identityRepo Store

var _ auth.IdentityRepository = (*identityRepo)(nil)

func (r *identityRepo) store() *Store { return (*Store)(r) }

func (r *identityRepo) Create(ctx context.Context, identity *auth.Identity) error {
	s := r.store()
	defer s.lock(ctx)()

	for _, existing := range s.identities {
		if existing.Email == identity.Email {
			return oops.Code("IDENTITY_CONFLICT").With(auth.KeyConflictField, "email").Wrap(auth.ErrConflict)
		}
		if existing.Username == identity.Username {
			return oops.Code("IDENTITY_CONFLICT").With(auth.KeyConflictField, "username").Wrap(auth.ErrConflict)
		}
	}
	s.identities[identity.ID] = *identity
	return nil
}

func (r *identityRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	s := r.store()
	defer s.lock(ctx)()

	ident, ok := s.identities[id]
	if !ok {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &ident, nil
}

func (r *identityRepo) find(ctx context.Context, match func(auth.Identity) bool) (*auth.Identity, error) {
	s := r.store()
	defer s.lock(ctx)()

	for _, ident := range s.identities {
		if match(ident) {
			return &ident, nil
		}
	}
	return nil, oops.Code("IDENTITY_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *identityRepo) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return r.find(ctx, func(i auth.Identity) bool { return i.Email == email })
}

func (r *identityRepo) GetByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	return r.find(ctx, func(i auth.Identity) bool { return i.Username == username })
}

func (r *identityRepo) TakenUsernames(ctx context.Context, candidates []string) (map[string]bool, error) {
	s := r.store()
	defer s.lock(ctx)()

	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[c] = true
	}
	taken := make(map[string]bool)
	for _, ident := range s.identities {
		if want[ident.Username] {
			taken[ident.Username] = true
		}
	}
	return taken, nil
}

// Lock is a presence check; the transaction already holds the store lock.
func (r *identityRepo) Lock(ctx context.Context, id ulid.ULID) error {
	_, err := r.GetByID(ctx, id)
	return err
}

func (r *identityRepo) update(ctx context.Context, id ulid.ULID, fn func(*auth.Identity)) error {
	s := r.store()
	defer s.lock(ctx)()

	ident, ok := s.identities[id]
	if !ok {
		return oops.Code("IDENTITY_NOT_FOUND").With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(&ident)
	s.identities[id] = ident
	return nil
}

func (r *identityRepo) MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, id, func(i *auth.Identity) {
		i.IsVerified = true
		i.UpdatedAt = at
	})
}

func (r *identityRepo) TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, id, func(i *auth.Identity) {
		i.LastLogin = &at
		i.UpdatedAt = at
	})
}

func (r *identityRepo) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error {
	return r.update(ctx, id, func(i *auth.Identity) {
		i.PasswordHash = hash
		i.UpdatedAt = at
	})
}

type verificationRepo Store

var _ auth.VerificationTokenRepository = (*verificationRepo)(nil)

func (r *verificationRepo) store() *Store { return (*Store)(r) }

func (r *verificationRepo) Create(ctx context.Context, token *auth.VerificationToken) error {
	s := r.store()
	defer s.lock(ctx)()

	for _, existing := range s.verifications {
		if existing.Code == token.Code {
			return oops.Code("VERIFICATION_CODE_CONFLICT").Wrap(auth.ErrConflict)
		}
	}
	s.verifications[token.ID] = *token
	return nil
}

func (r *verificationRepo) Latest(ctx context.Context, identityID ulid.ULID) (*auth.VerificationToken, error) {
	s := r.store()
	defer s.lock(ctx)()

	var latest *auth.VerificationToken
	for _, t := range s.verifications {
		if t.IdentityID != identityID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) ||
			(t.CreatedAt.Equal(latest.CreatedAt) && t.ID.Compare(latest.ID) > 0) {
			latest = &t
		}
	}
	if latest == nil {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	return latest, nil
}

func (r *verificationRepo) SupersedeUnused(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error) {
	s := r.store()
	defer s.lock(ctx)()

	var n int64
	for id, t := range s.verifications {
		if t.IdentityID == identityID && t.UsedAt == nil {
			t.UsedAt = &at
			s.verifications[id] = t
			n++
		}
	}
	return n, nil
}

func (r *verificationRepo) ConsumeLive(ctx context.Context, code string, now time.Time) (ulid.ULID, error) {
	s := r.store()
	defer s.lock(ctx)()

	for id, t := range s.verifications {
		if t.Code == code && t.IsLive(now) {
			t.UsedAt = &now
			s.verifications[id] = t
			return t.IdentityID, nil
		}
	}
	return ulid.ULID{}, oops.Code("VERIFICATION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *verificationRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s := r.store()
	defer s.lock(ctx)()

	var n int64
	for id, t := range s.verifications {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.verifications, id)
			n++
		}
	}
	return n, nil
}

type refreshRepo Store

var _ auth.RefreshTokenRepository = (*refreshRepo)(nil)

func (r *refreshRepo) store() *Store { return (*Store)(r) }

func (r *refreshRepo) Create(ctx context.Context, token *auth.RefreshToken) error {
	s := r.store()
	defer s.lock(ctx)()

	record := *token
	record.DeviceInfo = maps.Clone(token.DeviceInfo)
	s.refresh[token.ID] = record
	return nil
}

func (r *refreshRepo) ListLive(ctx context.Context, identityID ulid.ULID, now time.Time, limit int) ([]*auth.RefreshToken, error) {
	s := r.store()
	defer s.lock(ctx)()

	var out []*auth.RefreshToken
	for _, t := range s.refresh {
		if t.IdentityID == identityID && t.IsUsable(now) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Compare(out[j].ID) > 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *refreshRepo) Revoke(ctx context.Context, id ulid.ULID, at time.Time) error {
	s := r.store()
	defer s.lock(ctx)()

	t, ok := s.refresh[id]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	t.RevokedAt = &at
	s.refresh[id] = t
	return nil
}

func (r *refreshRepo) RevokeAll(ctx context.Context, identityID ulid.ULID, at time.Time) (int64, error) {
	s := r.store()
	defer s.lock(ctx)()

	var n int64
	for id, t := range s.refresh {
		if t.IdentityID == identityID && t.RevokedAt == nil {
			t.RevokedAt = &at
			s.refresh[id] = t
			n++
		}
	}
	return n, nil
}

type activityRepo Store

var _ auth.ActivityRepository = (*activityRepo)(nil)

func (r *activityRepo) Record(ctx context.Context, activity *auth.Activity) error {
	s := (*Store)(r)
	defer s.lock(ctx)()

	entry := *activity
	entry.Data = maps.Clone(activity.Data)
	s.activity = append(s.activity, entry)
	return nil
}
