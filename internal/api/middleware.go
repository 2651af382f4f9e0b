// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/internal/ratelimit"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

const (
	localsRequestID  = "request_id"
	localsIdentityID = "identity_id"
)

// Rate limit buckets.
const (
	BucketLogin    = "login"
	BucketRegister = "register"
	BucketResend   = "resend"
)

// requestID ensures every request has an identifier and exposes it to
// request-scoped loggers.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := utils.CopyString(c.Get(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.Locals(localsRequestID, id)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// accessLog logs each request once it has been handled and feeds the
// request duration histogram.
func accessLog(logger *slog.Logger, metrics Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		chainErr := c.Next()
		if chainErr != nil {
			// Render now so the logged status matches what the client sees.
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		elapsed := time.Since(start)
		status := c.Response().StatusCode()
		route := c.Route().Path
		if metrics != nil {
			metrics.ObserveRequest(c.Method(), route, status, elapsed)
		}

		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", c.Path(),
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"ip", c.IP(),
		)
		return nil
	}
}

// originMatcher matches Origin headers against exact origins and glob
// patterns such as https://*.example.com.
type originMatcher struct {
	patterns []glob.Glob
}

func newOriginMatcher(origins []string) (*originMatcher, error) {
	m := &originMatcher{}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(origin), '.', ':')
		if err != nil {
			return nil, oops.Code("CORS_CONFIG_INVALID").With("origin", origin).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

func (m *originMatcher) Allow(origin string) bool {
	origin = strings.ToLower(origin)
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// RateLimiter counts hits per client key.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string, limit int) (ratelimit.Decision, error)
}

// rateLimit caps requests per client IP in bucket. Limiter failures let the
// request through.
func rateLimit(limiter RateLimiter, metrics Metrics, logger *slog.Logger, bucket string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil || limit <= 0 {
			return c.Next()
		}

		decision, err := limiter.Allow(c.UserContext(), bucket, c.IP(), limit)
		if err != nil {
			logger.WarnContext(c.UserContext(), "rate limiter unavailable",
				"bucket", bucket, "error", err)
			return c.Next()
		}
		if decision.Allowed {
			return c.Next()
		}

		if metrics != nil {
			metrics.RecordRateLimited(bucket)
		}
		secs := max(int((decision.RetryAfter+time.Second-1)/time.Second), 1)
		return oops.Code(auth.CodeRateLimited).
			With(auth.KeyRetryAfterSec, secs).
			With("bucket", bucket).
			Errorf("too many requests; retry in %d seconds", secs)
	}
}

// Authorizer resolves a bearer access token to its identity.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (ulid.ULID, error)
}

// bearerAuth rejects requests without a valid access token and stores the
// authenticated identity ID in the request locals.
func bearerAuth(authorizer Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		scheme, raw, ok := strings.Cut(header, " ")
		raw = strings.TrimSpace(raw)
		if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
			return oops.Code(auth.CodeUnauthorized).Errorf("missing or invalid access token")
		}

		id, err := authorizer.Authorize(c.UserContext(), raw)
		if err != nil {
			return err
		}
		c.Locals(localsIdentityID, id)
		return c.Next()
	}
}

func identityID(c *fiber.Ctx) (ulid.ULID, bool) {
	id, ok := c.Locals(localsIdentityID).(ulid.ULID)
	return id, ok
}
