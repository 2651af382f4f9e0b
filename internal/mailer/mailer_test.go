// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

var testEmail = auth.VerificationEmail{
	To:        "a@x.com",
	Username:  "alice",
	VerifyURL: "https://app.example.com/verify?token=042917",
	Code:      "042917",
}

func newSender(t *testing.T, handler http.HandlerFunc) *SendGrid {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewSendGrid(SendGridOptions{
		APIKey:      "SG.test",
		Host:        srv.URL,
		FromAddress: "no-reply@example.com",
		FromName:    "inGeniia",
		TemplateID:  "d-123",
		CompanyName: "inGeniia",
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	return s
}

func TestSendGrid_SendVerificationEmail(t *testing.T) {
	var body map[string]any
	s := newSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, s.SendVerificationEmail(context.Background(), testEmail))

	assert.Equal(t, "d-123", body["template_id"])
	personalizations, ok := body["personalizations"].([]any)
	require.True(t, ok)
	require.Len(t, personalizations, 1)
	p := personalizations[0].(map[string]any)
	data := p["dynamic_template_data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.Equal(t, testEmail.VerifyURL, data["verify_url"])
	assert.Equal(t, "042917", data["code"])
	assert.Equal(t, "inGeniia", data["company_name"])
	to := p["to"].([]any)[0].(map[string]any)
	assert.Equal(t, "a@x.com", to["email"])
}

func TestSendGrid_Rejected(t *testing.T) {
	s := newSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	})

	err := s.SendVerificationEmail(context.Background(), testEmail)
	errutil.AssertErrorCode(t, err, "MAILER_SEND_FAILED")
	errutil.AssertErrorContext(t, err, "status", http.StatusUnauthorized)
}

func TestNewSendGrid_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts SendGridOptions
	}{
		{"api key", SendGridOptions{FromAddress: "a@x.com", TemplateID: "d-1"}},
		{"from", SendGridOptions{APIKey: "k", TemplateID: "d-1"}},
		{"template", SendGridOptions{APIKey: "k", FromAddress: "a@x.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSendGrid(tt.opts)
			errutil.AssertErrorCode(t, err, "MAILER_CONFIG_INVALID")
		})
	}
}

func TestLog_SendVerificationEmail(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, l.SendVerificationEmail(context.Background(), testEmail))
	assert.Contains(t, buf.String(), `"code":"042917"`)
	assert.Contains(t, buf.String(), `"to":"a@x.com"`)
}
