// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package api exposes the authentication service over HTTP.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/config"
)

// BasePath is the prefix of every authentication route.
const BasePath = "/api/v1/auth"

// AuthService is the subset of auth.Service the HTTP layer drives.
type AuthService interface {
	Authorizer
	Register(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error)
	VerifyEmail(ctx context.Context, code string, deviceInfo map[string]string) (*auth.Session, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error)
	Refresh(ctx context.Context, refresh string) (*auth.AccessGrant, error)
	Logout(ctx context.Context, identityID ulid.ULID, refresh string) error
	ResendVerification(ctx context.Context, email, captchaToken, clientIP string) (*auth.ResendResult, error)
	CurrentIdentity(ctx context.Context, identityID ulid.ULID) (*auth.Identity, error)
}

// Metrics receives HTTP-level observations.
type Metrics interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	RecordRateLimited(bucket string)
}

// Deps holds everything the HTTP layer needs. Limiter and Metrics are
// optional.
type Deps struct {
	Service AuthService
	Limiter RateLimiter
	Metrics Metrics
	Logger  *slog.Logger
	HTTP    config.HTTPConfig
	Limits  config.RateLimitConfig
}

// New builds the fiber application with all routes and middleware.
func New(deps Deps) (*fiber.App, error) {
	if deps.Service == nil {
		return nil, oops.Code("API_CONFIG_INVALID").Errorf("auth service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "authsvc",
		ReadTimeout:           deps.HTTP.ReadTimeout,
		WriteTimeout:          deps.HTTP.WriteTimeout,
		ProxyHeader:           deps.HTTP.ProxyHeader,
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})

	app.Use(requestID())
	app.Use(accessLog(logger, deps.Metrics))
	app.Use(recover.New())

	if len(deps.HTTP.CORSOrigins) > 0 {
		origins, err := newOriginMatcher(deps.HTTP.CORSOrigins)
		if err != nil {
			return nil, err
		}
		app.Use(cors.New(cors.Config{
			AllowOriginsFunc: origins.Allow,
			AllowMethods:     "GET,POST,OPTIONS",
			AllowHeaders:     "Authorization,Content-Type," + HeaderRequestID,
			ExposeHeaders:    HeaderRequestID + "," + fiber.HeaderRetryAfter,
		}))
	}

	h := &handlers{svc: deps.Service}
	limit := func(bucket string, n int) fiber.Handler {
		return rateLimit(deps.Limiter, deps.Metrics, logger, bucket, n)
	}

	r := app.Group(BasePath)
	r.Post("/register", limit(BucketRegister, deps.Limits.RegisterPerMinute), h.register)
	r.Post("/verify-email", h.verifyEmail)
	r.Post("/login", limit(BucketLogin, deps.Limits.LoginPerMinute), h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/resend-verification", limit(BucketResend, deps.Limits.ResendPerMinute), h.resendVerification)
	r.Post("/logout", bearerAuth(deps.Service), h.logout)
	r.Get("/me", bearerAuth(deps.Service), h.me)

	return app, nil
}
