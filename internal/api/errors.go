// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

// statusByCode maps caller-visible error codes to HTTP statuses.
var statusByCode = map[string]int{
	auth.CodeCaptchaFailed:         http.StatusBadRequest,
	auth.CodeUsernameTaken:         http.StatusConflict,
	auth.CodeEmailAlreadyVerified:  http.StatusConflict,
	auth.CodeRateLimited:           http.StatusTooManyRequests,
	auth.CodeTokenInvalidOrExpired: http.StatusBadRequest,
	auth.CodeBadCredentials:        http.StatusUnauthorized,
	auth.CodeAccountInactive:       http.StatusForbidden,
	auth.CodeEmailNotVerified:      http.StatusForbidden,
	auth.CodeRefreshInvalid:        http.StatusUnauthorized,
	auth.CodeUnauthorized:          http.StatusUnauthorized,
	auth.CodeNotFound:              http.StatusNotFound,
	auth.CodeValidationFailed:      http.StatusUnprocessableEntity,
	auth.CodeInternal:              http.StatusInternalServerError,
}

const internalMessage = "internal server error"

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if status, ok := statusByCode[auth.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorDetail struct {
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	Suggestions   []string          `json:"suggestions,omitempty"`
	RetryAfterSec int               `json:"retry_after_sec,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Detail errorDetail `json:"detail"`
}

// writeError renders err as the standard error envelope. Unexpected errors
// are logged in full and reported without internal detail.
func writeError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	kind := auth.Kind(err)
	status := StatusFor(err)

	detail := errorDetail{Code: kind, Message: publicMessage(err)}
	switch kind {
	case auth.CodeInternal:
		detail.Message = internalMessage
		errutil.LogErrorContext(c.UserContext(), logger, "request failed", err)
	case auth.CodeUsernameTaken:
		detail.Suggestions = auth.Suggestions(err)
	case auth.CodeRateLimited:
		if secs, ok := auth.RetryAfter(err); ok {
			detail.RetryAfterSec = secs
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		}
	case auth.CodeValidationFailed:
		detail.Fields = auth.FieldErrors(err)
	case auth.CodeUnauthorized:
		c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	}

	return c.Status(status).JSON(errorResponse{Detail: detail})
}

// publicMessage strips wrapping context so only the innermost message of
// an expected failure reaches the caller.
func publicMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// errorHandler is the fiber error handler. It also renders framework
// errors such as unknown routes and malformed bodies.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorResponse{Detail: errorDetail{
				Code:    frameworkCode(fe.Code),
				Message: fe.Message,
			}})
		}
		return writeError(c, logger, err)
	}
}

func frameworkCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return auth.CodeNotFound
	case http.StatusUnauthorized:
		return auth.CodeUnauthorized
	case http.StatusTooManyRequests:
		return auth.CodeRateLimited
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusUnprocessableEntity:
		return auth.CodeValidationFailed
	}
	if status >= http.StatusInternalServerError {
		return auth.CodeInternal
	}
	return "BAD_REQUEST"
}
