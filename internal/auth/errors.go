// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/pkg/errutil"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a unique constraint rejects a write.
var ErrConflict = errors.New("conflict")

// Error codes surfaced to callers. Each maps to one transport status.
const (
	CodeCaptchaFailed         = "CAPTCHA_FAILED"
	CodeUsernameTaken         = "USERNAME_TAKEN"
	CodeEmailAlreadyVerified  = "EMAIL_ALREADY_VERIFIED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeTokenInvalidOrExpired = "TOKEN_INVALID_OR_EXPIRED"
	CodeBadCredentials        = "BAD_CREDENTIALS"
	CodeAccountInactive       = "ACCOUNT_INACTIVE"
	CodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	CodeRefreshInvalid        = "REFRESH_INVALID"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeNotFound              = "NOT_FOUND"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInternal              = "INTERNAL"
)

// Context keys attached to coded errors.
const (
	KeyRetryAfterSec = "retry_after_sec"
	KeySuggestions   = "suggestions"
	KeyFields        = "fields"
)

var expectedCodes = map[string]struct{}{
	CodeCaptchaFailed:         {},
	CodeUsernameTaken:         {},
	CodeEmailAlreadyVerified:  {},
	CodeRateLimited:           {},
	CodeTokenInvalidOrExpired: {},
	CodeBadCredentials:        {},
	CodeAccountInactive:       {},
	CodeEmailNotVerified:      {},
	CodeRefreshInvalid:        {},
	CodeUnauthorized:          {},
	CodeNotFound:              {},
	CodeValidationFailed:      {},
}

// Kind classifies err into one of the caller-visible codes. Anything that is
// not an expected outcome is CodeInternal.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	code := errutil.Code(err)
	if _, ok := expectedCodes[code]; ok {
		return code
	}
	return CodeInternal
}

// RetryAfter returns the wait hint carried by a RATE_LIMITED error.
func RetryAfter(err error) (int, bool) {
	v, ok := errutil.ContextValue(err, KeyRetryAfterSec)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Suggestions returns the alternate usernames carried by a USERNAME_TAKEN error.
func Suggestions(err error) []string {
	v, ok := errutil.ContextValue(err, KeySuggestions)
	if !ok {
		return nil
	}
	s, _ := v.([]string)
	return s
}

// FieldErrors returns the per-field messages carried by a VALIDATION_FAILED error.
func FieldErrors(err error) map[string]string {
	v, ok := errutil.ContextValue(err, KeyFields)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]string)
	return m
}

func errRateLimited(retryAfter time.Duration) error {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	return oops.Code(CodeRateLimited).
		With(KeyRetryAfterSec, secs).
		Errorf("verification email sent recently; retry in %d seconds", secs)
}

func errTokenInvalidOrExpired() error {
	return oops.Code(CodeTokenInvalidOrExpired).Errorf("verification token is invalid or has expired")
}

func errBadCredentials() error {
	return oops.Code(CodeBadCredentials).Errorf("invalid email or password")
}

func errRefreshInvalid() error {
	return oops.Code(CodeRefreshInvalid).Errorf("refresh token is invalid or has expired")
}

func errEmailAlreadyVerified() error {
	return oops.Code(CodeEmailAlreadyVerified).Errorf("email is already registered and verified; log in instead")
}

func errUnauthorized() error {
	return oops.Code(CodeUnauthorized).Errorf("missing or invalid access token")
}

func errNotFound(what string) error {
	return oops.Code(CodeNotFound).Errorf("%s not found", what)
}
