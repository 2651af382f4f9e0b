// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// maxCodeAttempts bounds retries when a freshly drawn code collides with an
// existing one.
const maxCodeAttempts = 5

// VerificationPolicy holds the timing rules for verification codes.
type VerificationPolicy struct {
	TokenTTL       time.Duration
	ResendCooldown time.Duration
	MinRetryAfter  time.Duration
}

// IssuedCode is a freshly minted verification code.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

// VerificationService issues and redeems email verification codes.
type VerificationService struct {
	store  Store
	policy VerificationPolicy
	clock  Clock
	random io.Reader
	logger *slog.Logger
}

// NewVerificationService creates a VerificationService. A nil clock uses the
// system clock and a nil random source uses crypto/rand.
func NewVerificationService(store Store, policy VerificationPolicy, clock Clock, random io.Reader, logger *slog.Logger) (*VerificationService, error) {
	if err := store.Validate(); err != nil {
		return nil, err
	}
	if policy.TokenTTL <= 0 || policy.ResendCooldown < 0 {
		return nil, oops.Code("VERIFICATION_POLICY_INVALID").
			With("token_ttl", policy.TokenTTL).
			With("resend_cooldown", policy.ResendCooldown).
			Errorf("token ttl must be positive and cooldown non-negative")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if random == nil {
		random = rand.Reader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VerificationService{store: store, policy: policy, clock: clock, random: random, logger: logger}, nil
}

// Issue supersedes every unused code of the identity and mints a new one,
// unless the previous code is younger than the resend cooldown. In that case
// it fails RATE_LIMITED with a retry hint of at least MinRetryAfter.
func (s *VerificationService) Issue(ctx context.Context, identityID ulid.ULID) (*IssuedCode, error) {
	var issued *IssuedCode
	err := s.store.Tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Identities.Lock(ctx, identityID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errNotFound("identity")
			}
			return oops.Code("VERIFICATION_ISSUE_FAILED").
				With("identity_id", identityID.String()).
				With("operation", "lock identity").
				Wrap(err)
		}

		now := s.clock.Now()
		if err := s.checkCooldown(ctx, identityID, now); err != nil {
			return err
		}

		superseded, err := s.store.Verifications.SupersedeUnused(ctx, identityID, now)
		if err != nil {
			return oops.Code("VERIFICATION_ISSUE_FAILED").
				With("identity_id", identityID.String()).
				With("operation", "supersede unused codes").
				Wrap(err)
		}
		if superseded > 0 {
			s.logger.DebugContext(ctx, "superseded verification codes",
				"identity_id", identityID.String(), "count", superseded)
		}

		token, err := s.insertFresh(ctx, identityID, now)
		if err != nil {
			return err
		}
		issued = &IssuedCode{Code: token.Code, ExpiresAt: token.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *VerificationService) checkCooldown(ctx context.Context, identityID ulid.ULID, now time.Time) error {
	latest, err := s.store.Verifications.Latest(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("VERIFICATION_ISSUE_FAILED").
			With("identity_id", identityID.String()).
			With("operation", "load latest code").
			Wrap(err)
	}

	elapsed := now.Sub(latest.CreatedAt)
	if elapsed >= s.policy.ResendCooldown {
		return nil
	}
	return errRateLimited(max(s.policy.ResendCooldown-elapsed, s.policy.MinRetryAfter))
}

func (s *VerificationService) insertFresh(ctx context.Context, identityID ulid.ULID, now time.Time) (*VerificationToken, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := GenerateVerificationCode(s.random)
		if err != nil {
			return nil, err
		}
		token := &VerificationToken{
			ID:         ulid.Make(),
			IdentityID: identityID,
			Code:       code,
			ExpiresAt:  now.Add(s.policy.TokenTTL),
			CreatedAt:  now,
		}
		err = s.store.Verifications.Create(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, oops.Code("VERIFICATION_ISSUE_FAILED").
				With("identity_id", identityID.String()).
				With("operation", "insert code").
				Wrap(err)
		}
		s.logger.DebugContext(ctx, "verification code collision", "attempt", attempt)
	}
	return nil, oops.Code("VERIFICATION_CODE_EXHAUSTED").
		With("identity_id", identityID.String()).
		Errorf("no free verification code after %d attempts", maxCodeAttempts)
}

// Redeem consumes a live code and marks its identity verified in one
// transaction. Unknown, expired and already used codes all fail
// TOKEN_INVALID_OR_EXPIRED.
func (s *VerificationService) Redeem(ctx context.Context, code string) (ulid.ULID, error) {
	if !wellFormedCode(code) {
		return ulid.ULID{}, errTokenInvalidOrExpired()
	}

	var identityID ulid.ULID
	err := s.store.Tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		id, err := s.store.Verifications.ConsumeLive(ctx, code, now)
		if errors.Is(err, ErrNotFound) {
			return errTokenInvalidOrExpired()
		}
		if err != nil {
			return oops.Code("VERIFICATION_REDEEM_FAILED").With("operation", "consume code").Wrap(err)
		}
		if err := s.store.Identities.MarkVerified(ctx, id, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errTokenInvalidOrExpired()
			}
			return oops.Code("VERIFICATION_REDEEM_FAILED").
				With("identity_id", id.String()).
				With("operation", "mark identity verified").
				Wrap(err)
		}
		identityID = id
		return nil
	})
	if err != nil {
		return ulid.ULID{}, err
	}
	return identityID, nil
}

// Prune deletes codes that expired before cutoff.
func (s *VerificationService) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.Verifications.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, oops.Code("VERIFICATION_PRUNE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return n, nil
}

func wellFormedCode(code string) bool {
	if len(code) != VerificationCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
