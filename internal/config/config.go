// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package config loads the service configuration.
//
// A Config is built once at process start and passed by value to every
// component that needs it. Nothing in this package holds mutable state.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Environment names recognized by the service.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Email providers.
const (
	EmailProviderLog      = "log"
	EmailProviderSendGrid = "sendgrid"
)

// Config is the complete service configuration.
type Config struct {
	Environment  string             `koanf:"environment" json:"environment,omitempty" jsonschema:"enum=development,enum=staging,enum=production"`
	HTTP         HTTPConfig         `koanf:"http" json:"http,omitempty"`
	Metrics      MetricsConfig      `koanf:"metrics" json:"metrics,omitempty"`
	Log          LogConfig          `koanf:"log" json:"log,omitempty"`
	Database     DatabaseConfig     `koanf:"database" json:"database,omitempty"`
	Redis        RedisConfig        `koanf:"redis" json:"redis,omitempty"`
	JWT          JWTConfig          `koanf:"jwt" json:"jwt,omitempty"`
	Verification VerificationConfig `koanf:"verification" json:"verification,omitempty"`
	Session      SessionConfig      `koanf:"session" json:"session,omitempty"`
	Captcha      CaptchaConfig      `koanf:"captcha" json:"captcha,omitempty"`
	Email        EmailConfig        `koanf:"email" json:"email,omitempty"`
	RateLimit    RateLimitConfig    `koanf:"rate_limit" json:"rate_limit,omitempty"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr         string        `koanf:"addr" json:"addr,omitempty"`
	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"write_timeout,omitempty"`
	// CORSOrigins accepts exact origins and glob patterns such as https://*.example.com.
	CORSOrigins []string `koanf:"cors_origins" json:"cors_origins,omitempty"`
	// ProxyHeader, when set, is trusted for the client IP (e.g. X-Forwarded-For).
	ProxyHeader string `koanf:"proxy_header" json:"proxy_header,omitempty"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string `koanf:"url" json:"url,omitempty"`
	MaxConns        int32  `koanf:"max_conns" json:"max_conns,omitempty"`
	ConnectAttempts uint64 `koanf:"connect_attempts" json:"connect_attempts,omitempty"`
}

// RedisConfig configures the rate limiter backend. An empty URL disables it.
type RedisConfig struct {
	URL string `koanf:"url" json:"url,omitempty"`
}

// JWTConfig configures the token codec.
type JWTConfig struct {
	Secret     string        `koanf:"secret" json:"secret,omitempty"`
	Algorithm  string        `koanf:"algorithm" json:"algorithm,omitempty" jsonschema:"enum=HS256,enum=HS384,enum=HS512"`
	Issuer     string        `koanf:"issuer" json:"issuer,omitempty"`
	Audience   string        `koanf:"audience" json:"audience,omitempty"`
	AccessTTL  time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty"`
	RefreshTTL time.Duration `koanf:"refresh_ttl" json:"refresh_ttl,omitempty"`
}

// VerificationConfig configures email verification codes.
type VerificationConfig struct {
	TokenTTL       time.Duration `koanf:"token_ttl" json:"token_ttl,omitempty"`
	ResendCooldown time.Duration `koanf:"resend_cooldown" json:"resend_cooldown,omitempty"`
	MinRetryAfter  time.Duration `koanf:"min_retry_after" json:"min_retry_after,omitempty"`
	FrontendURL    string        `koanf:"frontend_url" json:"frontend_url,omitempty"`
}

// SessionConfig bounds refresh-token bookkeeping.
type SessionConfig struct {
	MaxLiveRefreshTokens int `koanf:"max_live_refresh_tokens" json:"max_live_refresh_tokens,omitempty"`
}

// CaptchaConfig configures the reCAPTCHA gate.
type CaptchaConfig struct {
	Secret    string        `koanf:"secret" json:"secret,omitempty"`
	VerifyURL string        `koanf:"verify_url" json:"verify_url,omitempty"`
	MinScore  float64       `koanf:"min_score" json:"min_score,omitempty"`
	Timeout   time.Duration `koanf:"timeout" json:"timeout,omitempty"`
}

// EmailConfig configures verification email delivery.
type EmailConfig struct {
	Provider       string        `koanf:"provider" json:"provider,omitempty" jsonschema:"enum=log,enum=sendgrid"`
	SendGridAPIKey string        `koanf:"sendgrid_api_key" json:"sendgrid_api_key,omitempty"`
	SendGridHost   string        `koanf:"sendgrid_host" json:"sendgrid_host,omitempty"`
	FromAddress    string        `koanf:"from_address" json:"from_address,omitempty"`
	FromName       string        `koanf:"from_name" json:"from_name,omitempty"`
	TemplateID     string        `koanf:"template_id" json:"template_id,omitempty"`
	CompanyName    string        `koanf:"company_name" json:"company_name,omitempty"`
	Timeout        time.Duration `koanf:"timeout" json:"timeout,omitempty"`
}

// RateLimitConfig caps requests per client IP per minute. Zero disables a limit.
type RateLimitConfig struct {
	LoginPerMinute    int `koanf:"login_per_minute" json:"login_per_minute,omitempty"`
	RegisterPerMinute int `koanf:"register_per_minute" json:"register_per_minute,omitempty"`
	ResendPerMinute   int `koanf:"resend_per_minute" json:"resend_per_minute,omitempty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Environment: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:         ":8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			MaxConns:        20,
			ConnectAttempts: 5,
		},
		JWT: JWTConfig{
			Algorithm:  "HS256",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Verification: VerificationConfig{
			TokenTTL:       120 * time.Minute,
			ResendCooldown: 120 * time.Second,
			MinRetryAfter:  30 * time.Second,
			FrontendURL:    "https://www.ingeniia.co",
		},
		Session: SessionConfig{MaxLiveRefreshTokens: 50},
		Captcha: CaptchaConfig{
			VerifyURL: "https://www.google.com/recaptcha/api/siteverify",
			MinScore:  0.5,
			Timeout:   5 * time.Second,
		},
		Email: EmailConfig{
			Provider:    EmailProviderLog,
			FromName:    "inGeniia",
			CompanyName: "inGeniia",
			Timeout:     8 * time.Second,
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute:    10,
			RegisterPerMinute: 5,
			ResendPerMinute:   5,
		},
	}
}

// IsDevelopment reports whether the service runs in development mode.
// Development mode bypasses the captcha gate.
func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

var supportedAlgorithms = []string{"HS256", "HS384", "HS512"}

// Validate checks the settings every command depends on.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return invalid("environment", "must be development, staging or production, got %q", c.Environment)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.JWT.Secret == "" {
		return invalid("jwt.secret", "is required")
	}
	if !c.IsDevelopment() && len(c.JWT.Secret) < 32 {
		return invalid("jwt.secret", "must be at least 32 bytes outside development")
	}
	if !slices.Contains(supportedAlgorithms, c.JWT.Algorithm) {
		return invalid("jwt.algorithm", "must be one of %s, got %q", strings.Join(supportedAlgorithms, ", "), c.JWT.Algorithm)
	}
	if c.JWT.Issuer == "" {
		return invalid("jwt.issuer", "is required")
	}
	if c.JWT.Audience == "" {
		return invalid("jwt.audience", "is required")
	}
	positive := map[string]time.Duration{
		"jwt.access_ttl":               c.JWT.AccessTTL,
		"jwt.refresh_ttl":              c.JWT.RefreshTTL,
		"verification.token_ttl":       c.Verification.TokenTTL,
		"verification.resend_cooldown": c.Verification.ResendCooldown,
		"captcha.timeout":              c.Captcha.Timeout,
		"email.timeout":                c.Email.Timeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return invalid(key, "must be positive, got %s", d)
		}
	}
	if c.Verification.MinRetryAfter < 0 {
		return invalid("verification.min_retry_after", "must not be negative")
	}
	if _, err := url.ParseRequestURI(c.Verification.FrontendURL); err != nil {
		return invalid("verification.frontend_url", "must be an absolute URL")
	}
	if c.Session.MaxLiveRefreshTokens <= 0 {
		return invalid("session.max_live_refresh_tokens", "must be positive")
	}
	if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
		return invalid("captcha.min_score", "must be between 0 and 1, got %v", c.Captcha.MinScore)
	}
	if !c.IsDevelopment() && c.Captcha.Secret == "" {
		return invalid("captcha.secret", "is required outside development")
	}
	switch c.Email.Provider {
	case EmailProviderLog:
	case EmailProviderSendGrid:
		if c.Email.SendGridAPIKey == "" || c.Email.FromAddress == "" || c.Email.TemplateID == "" {
			return invalid("email", "sendgrid provider requires sendgrid_api_key, from_address and template_id")
		}
	default:
		return invalid("email.provider", "must be 'log' or 'sendgrid', got %q", c.Email.Provider)
	}
	return nil
}

// ValidateDatabase checks the settings needed by commands that touch PostgreSQL.
func (c Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "is required (DATABASE_URL)")
	}
	if c.Database.MaxConns <= 0 {
		return invalid("database.max_conns", "must be positive")
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(key+" "+format, args...)
}
