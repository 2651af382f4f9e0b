// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/internal/token"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

var tracer = otel.Tracer("authsvc/auth")

// Operation names reported to the Recorder.
const (
	OpRegister           = "register"
	OpVerifyEmail        = "verify_email"
	OpLogin              = "login"
	OpRefresh            = "refresh"
	OpLogout             = "logout"
	OpResendVerification = "resend_verification"
	OpCaptcha            = "captcha"
	OpVerificationEmail  = "verification_email"
)

// Outcome labels that are not error codes.
const (
	OutcomeSuccess = "success"
	OutcomeResent  = "resent"
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomePassed  = "passed"
)

// ServiceDeps wires a Service. Store, Codec, Hasher, Captcha and Notifier
// are required.
type ServiceDeps struct {
	Store    Store
	Codec    TokenCodec
	Hasher   PasswordHasher
	Captcha  CaptchaVerifier
	Notifier Notifier
	Recorder Recorder
	Logger   *slog.Logger
	Clock    Clock

	// Policy holds the verification code timings.
	Policy VerificationPolicy
	// MaxLiveRefreshTokens bounds the refresh hash scan. Zero selects the default.
	MaxLiveRefreshTokens int
	// FrontendURL is the base of the link mailed with each code.
	FrontendURL string

	// CodeSource feeds verification codes. Nil means crypto/rand.
	CodeSource io.Reader
	// Rand draws numeric username suggestions. Nil seeds a fresh generator.
	Rand *rand.Rand
}

// Service is the registration and login orchestrator.
type Service struct {
	store         Store
	verifications *VerificationService
	sessions      *SessionService
	hasher        PasswordHasher
	captcha       CaptchaVerifier
	notifier      Notifier
	recorder      Recorder
	logger        *slog.Logger
	clock         Clock
	frontendURL   string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService validates deps and builds the lifecycle services.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Hasher == nil {
		return nil, oops.Code("SERVICE_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if deps.Captcha == nil {
		return nil, oops.Code("SERVICE_CONFIG_INVALID").Errorf("captcha verifier is required")
	}
	if deps.Notifier == nil {
		return nil, oops.Code("SERVICE_CONFIG_INVALID").Errorf("notifier is required")
	}
	if _, err := url.Parse(deps.FrontendURL); err != nil || deps.FrontendURL == "" {
		return nil, oops.Code("SERVICE_CONFIG_INVALID").
			With("frontend_url", deps.FrontendURL).
			Errorf("frontend url must be an absolute url")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // suggestions are not secrets
	}

	verifications, err := NewVerificationService(deps.Store, deps.Policy, clock, deps.CodeSource, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionService(deps.Store, deps.Codec, deps.Hasher, clock, deps.MaxLiveRefreshTokens, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:         deps.Store,
		verifications: verifications,
		sessions:      sessions,
		hasher:        deps.Hasher,
		captcha:       deps.Captcha,
		notifier:      deps.Notifier,
		recorder:      recorder,
		logger:        logger,
		clock:         clock,
		frontendURL:   strings.TrimRight(deps.FrontendURL, "/"),
		rng:           rng,
	}, nil
}

// Verifications exposes the verification lifecycle, used by maintenance
// commands.
func (s *Service) Verifications() *VerificationService { return s.verifications }

// RegisterInput is a registration request.
type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	CaptchaToken string
	ClientIP     string
}

// RegisterResult describes a successful registration or resend.
type RegisterResult struct {
	IdentityID ulid.ULID
	Email      string
	// Resent is true when the email was already registered but unverified
	// and a fresh code was issued instead of creating an identity.
	Resent bool
	// EmailSent is false when the notifier failed. The code stays valid.
	EmailSent bool
	ExpiresAt time.Time
}

// Session is an authenticated identity with its token pair.
type Session struct {
	Identity *Identity
	Tokens   *TokenPair
}

// LoginInput is a login request.
type LoginInput struct {
	Email        string
	Password     string
	CaptchaToken string
	ClientIP     string
	DeviceInfo   map[string]string
}

// ResendResult describes a resend.
type ResendResult struct {
	IdentityID ulid.ULID
	EmailSent  bool
	ExpiresAt  time.Time
}

// Register creates an unverified identity and mails it a verification code.
// When the email belongs to an unverified identity a new code is issued to
// that identity instead and the requested username is ignored.
func (s *Service) Register(ctx context.Context, in RegisterInput) (result *RegisterResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { s.finish(span, OpRegister, registerOutcome(result, err), err) }()

	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	if err := firstError(ValidateUsername(username), ValidateEmail(email), ValidatePassword(in.Password)); err != nil {
		return nil, err
	}

	if err := s.checkCaptcha(ctx, in.CaptchaToken, in.ClientIP); err != nil {
		return nil, err
	}

	existing, err := s.store.Identities.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.registerExisting(ctx, existing)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "lookup email").Wrap(err)
	}

	_, err = s.store.Identities.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, s.usernameTaken(ctx, username)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "lookup username").Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	identity, err := NewIdentity(username, email, hash, s.clock.Now())
	if err != nil {
		return nil, err
	}

	var issued *IssuedCode
	err = s.store.Tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Identities.Create(ctx, identity); err != nil {
			return err
		}
		var err error
		issued, err = s.verifications.Issue(ctx, identity.ID)
		return err
	})
	if errors.Is(err, ErrConflict) {
		return s.registerConflict(ctx, err, username, email)
	}
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("identity_id", identity.ID.String()).
			With("operation", "create identity").
			Wrap(err)
	}

	sent := s.sendVerification(ctx, identity, issued)
	s.recordActivity(ctx, identity.ID, ActionRegister, map[string]any{"email_sent": sent})
	s.logger.InfoContext(ctx, "identity registered", "identity_id", identity.ID.String())

	return &RegisterResult{
		IdentityID: identity.ID,
		Email:      identity.Email,
		EmailSent:  sent,
		ExpiresAt:  issued.ExpiresAt,
	}, nil
}

// registerConflict resolves a unique violation raised by a concurrent
// registration that won the race.
func (s *Service) registerConflict(ctx context.Context, conflict error, username, email string) (*RegisterResult, error) {
	field, _ := errutil.ContextValue(conflict, KeyConflictField)
	if field == "username" {
		return nil, s.usernameTaken(ctx, username)
	}

	existing, err := s.store.Identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "reload email after conflict").Wrap(err)
	}
	return s.registerExisting(ctx, existing)
}

func (s *Service) registerExisting(ctx context.Context, existing *Identity) (*RegisterResult, error) {
	if existing.IsVerified {
		return nil, errEmailAlreadyVerified()
	}

	issued, err := s.verifications.Issue(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	sent := s.sendVerification(ctx, existing, issued)
	s.recordActivity(ctx, existing.ID, ActionResendVerification, map[string]any{
		"email_sent": sent,
		"via":        "register",
	})

	return &RegisterResult{
		IdentityID: existing.ID,
		Email:      existing.Email,
		Resent:     true,
		EmailSent:  sent,
		ExpiresAt:  issued.ExpiresAt,
	}, nil
}

func (s *Service) usernameTaken(ctx context.Context, username string) error {
	s.rngMu.Lock()
	candidates := usernameCandidates(username, s.rng)
	s.rngMu.Unlock()

	suggestions, err := freeUsernames(ctx, s.store.Identities, candidates)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to build username suggestions", err)
		suggestions = nil
	}
	return oops.Code(CodeUsernameTaken).
		With(KeySuggestions, suggestions).
		Errorf("username %q is already taken", username)
}

// VerifyEmail redeems a verification code and opens a session for its
// identity.
func (s *Service) VerifyEmail(ctx context.Context, code string, deviceInfo map[string]string) (session *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.verify_email")
	defer func() { s.finish(span, OpVerifyEmail, outcomeOf(err), err) }()

	identityID, err := s.verifications.Redeem(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("identity.id", identityID.String()))

	identity, err := s.store.Identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("identity_id", identityID.String()).
			With("operation", "load identity").
			Wrap(err)
	}

	pair, err := s.sessions.IssuePair(ctx, identity, deviceInfo)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, identity.ID, ActionVerifyEmail, nil)
	s.logger.InfoContext(ctx, "email verified", "identity_id", identity.ID.String())
	return &Session{Identity: identity, Tokens: pair}, nil
}

// Login checks the captcha and credentials and opens a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (session *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { s.finish(span, OpLogin, outcomeOf(err), err) }()

	if err := s.checkCaptcha(ctx, in.CaptchaToken, in.ClientIP); err != nil {
		return nil, err
	}

	identity, err := s.sessions.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("identity.id", identity.ID.String()))

	pair, err := s.sessions.IssuePair(ctx, identity, in.DeviceInfo)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, identity.ID, ActionLogin, deviceData(in.DeviceInfo))
	s.logger.InfoContext(ctx, "login succeeded", "identity_id", identity.ID.String())
	return &Session{Identity: identity, Tokens: pair}, nil
}

// Refresh mints a new access token from a live refresh token.
func (s *Service) Refresh(ctx context.Context, refresh string) (grant *AccessGrant, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { s.finish(span, OpRefresh, outcomeOf(err), err) }()

	grant, identity, err := s.sessions.RotateAccess(ctx, refresh)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, identity.ID, ActionRefresh, nil)
	return grant, nil
}

// Logout revokes the given refresh token, or every live one when refresh
// is empty.
func (s *Service) Logout(ctx context.Context, identityID ulid.ULID, refresh string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout",
		trace.WithAttributes(attribute.String("identity.id", identityID.String())))
	defer func() { s.finish(span, OpLogout, outcomeOf(err), err) }()

	if _, err := s.lookupIdentity(ctx, identityID); err != nil {
		return err
	}

	revoked, err := s.sessions.Revoke(ctx, identityID, refresh)
	if err != nil {
		return err
	}
	s.recordActivity(ctx, identityID, ActionLogout, map[string]any{
		"revoked": revoked,
		"all":     refresh == "",
	})
	s.logger.InfoContext(ctx, "logout", "identity_id", identityID.String(), "revoked", revoked)
	return nil
}

// ResendVerification issues a fresh code to an unverified identity, subject
// to the resend cooldown.
func (s *Service) ResendVerification(ctx context.Context, email, captchaToken, clientIP string) (result *ResendResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.resend_verification")
	defer func() { s.finish(span, OpResendVerification, outcomeOf(err), err) }()

	if err := s.checkCaptcha(ctx, captchaToken, clientIP); err != nil {
		return nil, err
	}

	identity, err := s.store.Identities.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, errNotFound("user")
	}
	if err != nil {
		return nil, oops.Code("AUTH_RESEND_FAILED").With("operation", "lookup email").Wrap(err)
	}
	if identity.IsVerified {
		return nil, errEmailAlreadyVerified()
	}

	issued, err := s.verifications.Issue(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	sent := s.sendVerification(ctx, identity, issued)
	s.recordActivity(ctx, identity.ID, ActionResendVerification, map[string]any{"email_sent": sent})

	return &ResendResult{IdentityID: identity.ID, EmailSent: sent, ExpiresAt: issued.ExpiresAt}, nil
}

// CurrentIdentity returns the identity behind an authenticated request.
func (s *Service) CurrentIdentity(ctx context.Context, identityID ulid.ULID) (*Identity, error) {
	return s.lookupIdentity(ctx, identityID)
}

// Authorize decodes an access token and returns its subject. Every failure
// is UNAUTHORIZED.
func (s *Service) Authorize(_ context.Context, accessToken string) (ulid.ULID, error) {
	claims, err := s.sessions.codec.DecodeAs(accessToken, token.TypeAccess)
	if err != nil {
		return ulid.ULID{}, errUnauthorized()
	}
	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, errUnauthorized()
	}
	return id, nil
}

// PruneVerificationTokens deletes verification codes that expired before
// cutoff.
func (s *Service) PruneVerificationTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.verifications.Prune(ctx, cutoff)
}

func (s *Service) lookupIdentity(ctx context.Context, identityID ulid.ULID) (*Identity, error) {
	identity, err := s.store.Identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, errNotFound("user")
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return identity, nil
}

func (s *Service) checkCaptcha(ctx context.Context, captchaToken, clientIP string) error {
	if !s.captcha.Verify(ctx, captchaToken, clientIP) {
		s.recorder.RecordOutcome(OpCaptcha, OutcomeFailed)
		return oops.Code(CodeCaptchaFailed).Errorf("captcha verification failed")
	}
	s.recorder.RecordOutcome(OpCaptcha, OutcomePassed)
	return nil
}

// sendVerification mails a code. Failure is logged and reported as false;
// the code stays valid so the user can ask for a resend.
func (s *Service) sendVerification(ctx context.Context, identity *Identity, issued *IssuedCode) bool {
	msg := VerificationEmail{
		To:        identity.Email,
		Username:  identity.Username,
		VerifyURL: s.frontendURL + "/verify?token=" + url.QueryEscape(issued.Code),
		Code:      issued.Code,
	}
	if err := s.notifier.SendVerificationEmail(ctx, msg); err != nil {
		s.recorder.RecordOutcome(OpVerificationEmail, OutcomeFailed)
		s.logger.WarnContext(ctx, "verification email not sent",
			"identity_id", identity.ID.String(),
			"error", err)
		return false
	}
	s.recorder.RecordOutcome(OpVerificationEmail, OutcomeSent)
	return true
}

func (s *Service) recordActivity(ctx context.Context, identityID ulid.ULID, action string, data map[string]any) {
	entry := &Activity{
		ID:          ulid.Make(),
		IdentityID:  identityID,
		ServiceName: ServiceName,
		Action:      action,
		Data:        data,
		CreatedAt:   s.clock.Now(),
	}
	if id := logging.RequestID(ctx); id != "" {
		if entry.Data == nil {
			entry.Data = map[string]any{}
		}
		entry.Data["request_id"] = id
	}
	if err := s.store.Activity.Record(ctx, entry); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record activity", err)
	}
}

func (s *Service) finish(span trace.Span, op, outcome string, err error) {
	s.recorder.RecordOutcome(op, outcome)
	if err != nil {
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		if Kind(err) == CodeInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return strings.ToLower(Kind(err))
}

func registerOutcome(result *RegisterResult, err error) string {
	if err == nil && result != nil && result.Resent {
		return OutcomeResent
	}
	return outcomeOf(err)
}

func deviceData(info map[string]string) map[string]any {
	if len(info) == 0 {
		return nil
	}
	out := make(map[string]any, len(info))
	for k, v := range info {
		out[k] = v
	}
	return out
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
