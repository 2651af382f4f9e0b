// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/token"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

// DefaultMaxLiveRefreshTokens bounds the per-identity hash scan in
// RotateAccess and Revoke.
const DefaultMaxLiveRefreshTokens = 50

// TokenCodec mints and decodes bearer tokens.
type TokenCodec interface {
	IssueAccessToken(subject string, extra token.Extra, ttl time.Duration) (string, error)
	IssueRefreshToken(subject string) (string, error)
	DecodeAs(raw string, want token.Type) (*token.Claims, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// TokenPair is what a client receives after login or verification.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// AccessGrant is a freshly minted access token.
type AccessGrant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// SessionService authenticates identities and manages their refresh tokens.
type SessionService struct {
	store   Store
	codec   TokenCodec
	hasher  PasswordHasher
	clock   Clock
	maxLive int
	logger  *slog.Logger
}

// NewSessionService creates a SessionService. maxLive <= 0 selects
// DefaultMaxLiveRefreshTokens.
func NewSessionService(store Store, codec TokenCodec, hasher PasswordHasher, clock Clock, maxLive int, logger *slog.Logger) (*SessionService, error) {
	if err := store.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, oops.Code("SESSION_CONFIG_INVALID").Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Code("SESSION_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if maxLive <= 0 {
		maxLive = DefaultMaxLiveRefreshTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		store:   store,
		codec:   codec,
		hasher:  hasher,
		clock:   clock,
		maxLive: maxLive,
		logger:  logger,
	}, nil
}

// Authenticate checks an email and password pair.
//
// An unknown email still pays for one hash comparison so the response time
// does not reveal whether the account exists. Failures are reported in the
// order BAD_CREDENTIALS, ACCOUNT_INACTIVE, EMAIL_NOT_VERIFIED.
func (s *SessionService) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)

	identity, err := s.store.Identities.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		//nolint:errcheck // result irrelevant, only the timing matters
		s.hasher.Verify(password, dummyPasswordHash)
		return nil, errBadCredentials()
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "load identity").Wrap(err)
	}

	ok, err := s.hasher.Verify(password, identity.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("identity_id", identity.ID.String()).
			With("operation", "verify password").
			Wrap(err)
	}
	if !ok {
		return nil, errBadCredentials()
	}
	if !identity.IsActive {
		return nil, oops.Code(CodeAccountInactive).Errorf("account is inactive")
	}
	if !identity.IsVerified {
		return nil, oops.Code(CodeEmailNotVerified).Errorf("email address has not been verified")
	}

	now := s.clock.Now()
	if err := s.store.Identities.TouchLastLogin(ctx, identity.ID, now); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record last login", err)
	} else {
		identity.LastLogin = &now
	}

	if s.hasher.NeedsUpgrade(identity.PasswordHash) {
		s.upgradeHash(ctx, identity, password, now)
	}
	return identity, nil
}

func (s *SessionService) upgradeHash(ctx context.Context, identity *Identity, password string, now time.Time) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to rehash legacy password", err)
		return
	}
	if err := s.store.Identities.UpdatePasswordHash(ctx, identity.ID, hash, now); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to store upgraded password hash", err)
		return
	}
	identity.PasswordHash = hash
	s.logger.InfoContext(ctx, "upgraded legacy password hash", "identity_id", identity.ID.String())
}

// IssuePair mints an access and refresh token for identity and stores a
// hash of the refresh token.
func (s *SessionService) IssuePair(ctx context.Context, identity *Identity, deviceInfo map[string]string) (*TokenPair, error) {
	subject := identity.ID.String()
	access, err := s.codec.IssueAccessToken(subject, token.Extra{Email: identity.Email}, 0)
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").With("identity_id", subject).Wrap(err)
	}
	refresh, err := s.codec.IssueRefreshToken(subject)
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").With("identity_id", subject).Wrap(err)
	}
	hash, err := s.hasher.Hash(refresh)
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").
			With("identity_id", subject).
			With("operation", "hash refresh token").
			Wrap(err)
	}

	now := s.clock.Now()
	record := &RefreshToken{
		ID:         ulid.Make(),
		IdentityID: identity.ID,
		TokenHash:  hash,
		ExpiresAt:  now.Add(s.codec.RefreshTTL()),
		CreatedAt:  now,
		DeviceInfo: deviceInfo,
	}
	err = s.store.Tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.RefreshTokens.Create(ctx, record); err != nil {
			return oops.Code("SESSION_ISSUE_FAILED").
				With("identity_id", subject).
				With("operation", "store refresh token").
				Wrap(err)
		}
		return s.evictBeyondWindow(ctx, identity.ID, now)
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.codec.AccessTTL(),
	}, nil
}

// RotateAccess exchanges a live refresh token for a new access token. The
// refresh token itself stays valid.
func (s *SessionService) RotateAccess(ctx context.Context, refresh string) (*AccessGrant, *Identity, error) {
	identityID, err := s.matchLive(ctx, refresh)
	if err != nil {
		return nil, nil, err
	}

	identity, err := s.store.Identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, errRefreshInvalid()
	}
	if err != nil {
		return nil, nil, oops.Code("SESSION_REFRESH_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if !identity.IsActive {
		return nil, nil, oops.Code(CodeAccountInactive).Errorf("account is inactive")
	}

	access, err := s.codec.IssueAccessToken(identity.ID.String(), token.Extra{Email: identity.Email}, 0)
	if err != nil {
		return nil, nil, oops.Code("SESSION_REFRESH_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return &AccessGrant{AccessToken: access, ExpiresIn: s.codec.AccessTTL()}, identity, nil
}

// matchLive decodes refresh and confirms a live stored record matches it.
func (s *SessionService) matchLive(ctx context.Context, refresh string) (ulid.ULID, error) {
	claims, err := s.codec.DecodeAs(refresh, token.TypeRefresh)
	if err != nil {
		return ulid.ULID{}, errRefreshInvalid()
	}
	identityID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, errRefreshInvalid()
	}

	record, err := s.findLive(ctx, identityID, refresh, s.maxLive)
	if err != nil {
		return ulid.ULID{}, err
	}
	if record == nil {
		return ulid.ULID{}, errRefreshInvalid()
	}
	return identityID, nil
}

// evictBeyondWindow revokes live tokens older than the newest maxLive, so
// every live token stays inside the window RotateAccess scans.
func (s *SessionService) evictBeyondWindow(ctx context.Context, identityID ulid.ULID, now time.Time) error {
	live, err := s.store.RefreshTokens.ListLive(ctx, identityID, now, 0)
	if err != nil {
		return oops.Code("SESSION_ISSUE_FAILED").
			With("identity_id", identityID.String()).
			With("operation", "list live refresh tokens").
			Wrap(err)
	}
	if len(live) <= s.maxLive {
		return nil
	}
	for _, record := range live[s.maxLive:] {
		if err := s.store.RefreshTokens.Revoke(ctx, record.ID, now); err != nil {
			return oops.Code("SESSION_ISSUE_FAILED").
				With("identity_id", identityID.String()).
				With("refresh_token_id", record.ID.String()).
				With("operation", "evict refresh token").
				Wrap(err)
		}
	}
	s.logger.DebugContext(ctx, "evicted refresh tokens beyond live window",
		"identity_id", identityID.String(),
		"evicted", len(live)-s.maxLive)
	return nil
}

// findLive returns the live record of identityID matching refresh, or nil.
// limit bounds the scan to the newest records; 0 scans every live record.
func (s *SessionService) findLive(ctx context.Context, identityID ulid.ULID, refresh string, limit int) (*RefreshToken, error) {
	live, err := s.store.RefreshTokens.ListLive(ctx, identityID, s.clock.Now(), limit)
	if err != nil {
		return nil, oops.Code("SESSION_LOOKUP_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	for _, record := range live {
		ok, err := s.hasher.Verify(refresh, record.TokenHash)
		if err != nil {
			s.logger.WarnContext(ctx, "unreadable refresh token hash",
				"identity_id", identityID.String(),
				"refresh_token_id", record.ID.String(),
				"error", err)
			continue
		}
		if ok {
			return record, nil
		}
	}
	return nil, nil
}

// Revoke ends sessions for identityID. With a refresh token only the
// matching live record is revoked; without one every live record is.
// Nothing to revoke is not an error.
func (s *SessionService) Revoke(ctx context.Context, identityID ulid.ULID, refresh string) (int64, error) {
	now := s.clock.Now()
	if refresh == "" {
		n, err := s.store.RefreshTokens.RevokeAll(ctx, identityID, now)
		if err != nil {
			return 0, oops.Code("SESSION_REVOKE_FAILED").
				With("identity_id", identityID.String()).
				Wrap(err)
		}
		return n, nil
	}

	record, err := s.findLive(ctx, identityID, refresh, 0)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	if err := s.store.RefreshTokens.Revoke(ctx, record.ID, now); err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").
			With("identity_id", identityID.String()).
			With("refresh_token_id", record.ID.String()).
			Wrap(err)
	}
	return 1, nil
}
