// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package mailer delivers verification emails.
package mailer

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/ingeniia/authsvc/internal/auth"
)

const sendEndpoint = "/v3/mail/send"

// SendGridOptions configures the SendGrid sender.
type SendGridOptions struct {
	APIKey string
	// Host overrides https://api.sendgrid.com, mainly for tests.
	Host        string
	FromAddress string
	FromName    string
	TemplateID  string
	CompanyName string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// SendGrid sends verification emails through a SendGrid dynamic template.
// The template receives username, verify_url, code and company_name.
type SendGrid struct {
	opts   SendGridOptions
	logger *slog.Logger
}

// Compile-time interface check.
var _ auth.Notifier = (*SendGrid)(nil)

// NewSendGrid validates opts and returns a sender.
func NewSendGrid(opts SendGridOptions) (*SendGrid, error) {
	switch {
	case opts.APIKey == "":
		return nil, oops.Code("MAILER_CONFIG_INVALID").Errorf("sendgrid api key is required")
	case opts.FromAddress == "":
		return nil, oops.Code("MAILER_CONFIG_INVALID").Errorf("from address is required")
	case opts.TemplateID == "":
		return nil, oops.Code("MAILER_CONFIG_INVALID").Errorf("template id is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGrid{opts: opts, logger: logger}, nil
}

// SendVerificationEmail posts one templated message.
func (s *SendGrid) SendVerificationEmail(ctx context.Context, msg auth.VerificationEmail) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	request := sendgrid.GetRequest(s.opts.APIKey, sendEndpoint, s.opts.Host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(s.message(msg))

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return oops.Code("MAILER_SEND_FAILED").
			With("operation", "post mail send").
			Wrap(err)
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		return oops.Code("MAILER_SEND_FAILED").
			With("status", response.StatusCode).
			With("body", response.Body).
			Errorf("sendgrid rejected message with status %d", response.StatusCode)
	}

	s.logger.InfoContext(ctx, "verification email sent", "status", response.StatusCode)
	return nil
}

func (s *SendGrid) message(msg auth.VerificationEmail) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.opts.FromName, s.opts.FromAddress))
	m.SetTemplateID(s.opts.TemplateID)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.Username, msg.To))
	p.SetDynamicTemplateData("username", msg.Username)
	p.SetDynamicTemplateData("verify_url", msg.VerifyURL)
	p.SetDynamicTemplateData("code", msg.Code)
	p.SetDynamicTemplateData("company_name", s.opts.CompanyName)
	m.AddPersonalizations(p)
	return m
}

// Log writes verification emails to the logger instead of sending them.
// It backs the "log" provider used in development.
type Log struct {
	Logger *slog.Logger
}

// Compile-time interface check.
var _ auth.Notifier = Log{}

// SendVerificationEmail logs msg, including the code.
func (l Log) SendVerificationEmail(ctx context.Context, msg auth.VerificationEmail) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification email",
		"to", msg.To,
		"username", msg.Username,
		"verify_url", msg.VerifyURL,
		"code", msg.Code)
	return nil
}
