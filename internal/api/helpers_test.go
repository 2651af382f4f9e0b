// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ingeniia/authsvc/internal/api"
	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/auth/memstore"
	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/internal/token"
)

const testPassword = "Passw0rd!"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type stubCaptcha struct {
	reject bool
}

func (s *stubCaptcha) Verify(context.Context, string, string) bool { return !s.reject }

type outbox struct {
	mu   sync.Mutex
	msgs []auth.VerificationEmail
}

func (o *outbox) SendVerificationEmail(_ context.Context, msg auth.VerificationEmail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no verification email sent")
	return o.msgs[len(o.msgs)-1].Code
}

type metricsSpy struct {
	mu          sync.Mutex
	statuses    []int
	rateLimited []string
}

func (m *metricsSpy) ObserveRequest(_, _ string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *metricsSpy) RecordRateLimited(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = append(m.rateLimited, bucket)
}

type harness struct {
	app     *fiber.App
	mem     *memstore.Store
	clock   *fakeClock
	captcha *stubCaptcha
	mail    *outbox
	metrics *metricsSpy
}

// newHarness serves a real auth.Service over an in-memory store. Options
// adjust the API dependencies before the app is built.
func newHarness(t *testing.T, opts ...func(*api.Deps)) *harness {
	t.Helper()

	h := &harness{
		mem:     memstore.New(),
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		captcha: &stubCaptcha{},
		mail:    &outbox{},
		metrics: &metricsSpy{},
	}
	codec, err := token.NewCodec(token.Options{
		Secret:     []byte("test-signing-secret-at-least-32-bytes"),
		Algorithm:  "HS256",
		Issuer:     "authsvc-test",
		Audience:   "authsvc-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        h.clock.Now,
	})
	require.NoError(t, err)

	svc, err := auth.NewService(auth.ServiceDeps{
		Store:    h.mem.AuthStore(),
		Codec:    codec,
		Hasher:   auth.NewFastArgon2idHasher(),
		Captcha:  h.captcha,
		Notifier: h.mail,
		Logger:   logging.Discard(),
		Clock:    h.clock,
		Policy: auth.VerificationPolicy{
			TokenTTL:       2 * time.Hour,
			ResendCooldown: 120 * time.Second,
			MinRetryAfter:  30 * time.Second,
		},
		FrontendURL: "https://app.example.com",
	})
	require.NoError(t, err)

	deps := api.Deps{
		Service: svc,
		Metrics: h.metrics,
		Logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.app, err = api.New(deps)
	require.NoError(t, err)
	return h
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (r response) detail() map[string]any {
	d, _ := r.body["detail"].(map[string]any)
	return d
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, header: resp.Header}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), "body: %s", raw)
	}
	return out
}

func (h *harness) register(t *testing.T, username, email string) response {
	t.Helper()
	return h.do(t, http.MethodPost, api.BasePath+"/register", map[string]string{
		"username":      username,
		"email":         email,
		"password":      testPassword,
		"captcha_token": "captcha",
	})
}

// verified registers and verifies an identity, returning the token response.
func (h *harness) verified(t *testing.T, username, email string) response {
	t.Helper()
	res := h.register(t, username, email)
	require.Equal(t, http.StatusCreated, res.status, res.body)
	res = h.do(t, http.MethodPost, api.BasePath+"/verify-email", map[string]string{"token": h.mail.lastCode(t)})
	require.Equal(t, http.StatusOK, res.status, res.body)
	return res
}

func (h *harness) login(t *testing.T, email, password string) response {
	t.Helper()
	return h.do(t, http.MethodPost, api.BasePath+"/login", map[string]string{
		"email":         email,
		"password":      password,
		"captcha_token": "captcha",
	})
}

func bearer(tok any) []string {
	s, _ := tok.(string)
	return []string{fiber.HeaderAuthorization, "Bearer " + s}
}
