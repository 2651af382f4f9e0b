// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// CaptchaVerifier scores a client-supplied bot-check token. Implementations
// bound their own I/O and return false on any transport failure.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, clientIP string) bool
}

// VerificationEmail is what the notifier needs to mail a code.
type VerificationEmail struct {
	To        string
	Username  string
	VerifyURL string
	Code      string
}

// Notifier delivers verification emails. A failed delivery is never fatal
// to the calling operation.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, msg VerificationEmail) error
}

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	RecordOutcome(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, string) {}
