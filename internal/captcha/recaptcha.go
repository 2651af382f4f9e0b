// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package captcha verifies bot-check tokens submitted with public forms.
package captcha

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// maxResponseBytes caps how much of the siteverify reply is read.
const maxResponseBytes = 64 << 10

// Options configures a Recaptcha verifier.
type Options struct {
	Secret    string
	VerifyURL string
	// MinScore is the lowest acceptable v3 score. A reply without a score
	// counts as zero.
	MinScore float64
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Recaptcha verifies tokens against the reCAPTCHA siteverify API. Every
// failure, including transport errors, rejects the token.
type Recaptcha struct {
	secret    string
	verifyURL string
	minScore  float64
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// Compile-time interface check.
var _ auth.CaptchaVerifier = (*Recaptcha)(nil)

type siteverifyReply struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// NewRecaptcha validates opts and returns a verifier.
func NewRecaptcha(opts Options) (*Recaptcha, error) {
	if opts.Secret == "" {
		return nil, oops.Code("CAPTCHA_CONFIG_INVALID").Errorf("captcha secret is required")
	}
	if opts.VerifyURL == "" {
		opts.VerifyURL = DefaultVerifyURL
	}
	if _, err := url.ParseRequestURI(opts.VerifyURL); err != nil {
		return nil, oops.Code("CAPTCHA_CONFIG_INVALID").With("verify_url", opts.VerifyURL).Wrap(err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recaptcha{
		secret:    opts.Secret,
		verifyURL: opts.VerifyURL,
		minScore:  opts.MinScore,
		timeout:   opts.Timeout,
		client:    opts.Client,
		logger:    opts.Logger,
	}, nil
}

// Verify reports whether token passes the bot check for clientIP.
func (r *Recaptcha) Verify(ctx context.Context, token, clientIP string) bool {
	if strings.TrimSpace(token) == "" {
		r.logger.WarnContext(ctx, "captcha token missing")
		return false
	}

	reply, err := r.siteverify(ctx, token, clientIP)
	if err != nil {
		errutil.LogErrorContext(ctx, r.logger, "captcha verification failed", err)
		return false
	}
	if !reply.Success {
		r.logger.WarnContext(ctx, "captcha rejected", "error_codes", reply.ErrorCodes)
		return false
	}
	if reply.Score < r.minScore {
		r.logger.WarnContext(ctx, "captcha score too low",
			"score", reply.Score,
			"min_score", r.minScore,
			"action", reply.Action)
		return false
	}
	return true
}

func (r *Recaptcha) siteverify(ctx context.Context, token, clientIP string) (*siteverifyReply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	form := url.Values{"secret": {r.secret}, "response": {token}}
	if clientIP != "" {
		form.Set("remoteip", clientIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, oops.Code("CAPTCHA_REQUEST_FAILED").With("operation", "build request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, oops.Code("CAPTCHA_REQUEST_FAILED").With("operation", "post siteverify").Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // response fully consumed or abandoned

	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code("CAPTCHA_REQUEST_FAILED").
			With("status", resp.StatusCode).
			Errorf("siteverify returned %s", resp.Status)
	}

	var reply siteverifyReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&reply); err != nil {
		return nil, oops.Code("CAPTCHA_REQUEST_FAILED").With("operation", "decode reply").Wrap(err)
	}
	return &reply, nil
}

// Bypass accepts every token. It is only wired in development.
type Bypass struct {
	Logger *slog.Logger
}

// Compile-time interface check.
var _ auth.CaptchaVerifier = Bypass{}

// Verify always returns true.
func (b Bypass) Verify(ctx context.Context, _, _ string) bool {
	if b.Logger != nil {
		b.Logger.DebugContext(ctx, "captcha bypassed in development")
	}
	return true
}
