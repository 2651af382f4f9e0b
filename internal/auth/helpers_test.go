// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/auth/memstore"
	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/internal/token"
)

const (
	testPassword = "Passw0rd!"
	testIP       = "203.0.113.7"
	testFrontend = "https://app.example.com"
)

var testPolicy = auth.VerificationPolicy{
	TokenTTL:       120 * time.Minute,
	ResendCooldown: 120 * time.Second,
	MinRetryAfter:  30 * time.Second,
}

// testingT is satisfied by both *testing.T and GinkgoT.
type testingT interface {
	require.TestingT
	Helper()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockCaptcha struct {
	mock.Mock
}

func (m *mockCaptcha) Verify(ctx context.Context, tok, clientIP string) bool {
	args := m.Called(ctx, tok, clientIP)
	return args.Bool(0)
}

// outbox records every verification email and optionally fails delivery.
type outbox struct {
	mu   sync.Mutex
	msgs []auth.VerificationEmail
	err  error
}

func (o *outbox) SendVerificationEmail(_ context.Context, msg auth.VerificationEmail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *outbox) last(t testingT) auth.VerificationEmail {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no verification email sent")
	return o.msgs[len(o.msgs)-1]
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

type outcomeSpy struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (r *outcomeSpy) RecordOutcome(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string][]string{}
	}
	r.outcomes[op] = append(r.outcomes[op], outcome)
}

func (r *outcomeSpy) of(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes[op]...)
}

type fixture struct {
	svc      *auth.Service
	mem      *memstore.Store
	store    auth.Store
	clock    *fakeClock
	codec    *token.Codec
	hasher   *auth.Argon2idHasher
	captcha  *mockCaptcha
	mail     *outbox
	recorder *outcomeSpy
}

func newCodec(t testingT, clock auth.Clock) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(token.Options{
		Secret:     []byte("test-signing-secret-at-least-32-bytes"),
		Algorithm:  "HS256",
		Issuer:     "authsvc-test",
		Audience:   "authsvc-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return codec
}

// newFixture builds a Service over an in-memory store with a captcha that
// accepts everything. opts adjust the dependencies before construction.
func newFixture(t testingT, opts ...func(*auth.ServiceDeps)) *fixture {
	t.Helper()

	f := &fixture{
		mem:      memstore.New(),
		clock:    newFakeClock(),
		hasher:   auth.NewFastArgon2idHasher(),
		captcha:  &mockCaptcha{},
		mail:     &outbox{},
		recorder: &outcomeSpy{},
	}
	f.store = f.mem.AuthStore()
	f.codec = newCodec(t, f.clock)
	f.captcha.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()

	deps := auth.ServiceDeps{
		Store:       f.store,
		Codec:       f.codec,
		Hasher:      f.hasher,
		Captcha:     f.captcha,
		Notifier:    f.mail,
		Recorder:    f.recorder,
		Logger:      logging.Discard(),
		Clock:       f.clock,
		Policy:      testPolicy,
		FrontendURL: testFrontend + "/",
		Rand:        rand.New(rand.NewPCG(1, 2)),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := auth.NewService(deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t testingT, username, email string) *auth.RegisterResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), auth.RegisterInput{
		Username:     username,
		Email:        email,
		Password:     testPassword,
		CaptchaToken: "captcha",
		ClientIP:     testIP,
	})
	require.NoError(t, err)
	return res
}

// verified registers and verifies an identity, returning its session.
func (f *fixture) verified(t testingT, username, email string) *auth.Session {
	t.Helper()
	f.register(t, username, email)
	session, err := f.svc.VerifyEmail(context.Background(), f.mail.last(t).Code, nil)
	require.NoError(t, err)
	return session
}

func (f *fixture) login(t testingT, email string) *auth.Session {
	t.Helper()
	session, err := f.svc.Login(context.Background(), auth.LoginInput{
		Email:        email,
		Password:     testPassword,
		CaptchaToken: "captcha",
		ClientIP:     testIP,
	})
	require.NoError(t, err)
	return session
}
