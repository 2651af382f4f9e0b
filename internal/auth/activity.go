// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// ServiceName tags activity rows written by this service.
const ServiceName = "auth_service"

// Activity actions.
const (
	ActionRegister           = "register"
	ActionVerifyEmail        = "verify_email"
	ActionLogin              = "login"
	ActionLogout             = "logout"
	ActionResendVerification = "resend_verification"
	ActionRefresh            = "refresh"
)

// Activity is an audit trail entry.
type Activity struct {
	ID          ulid.ULID
	IdentityID  ulid.ULID
	ServiceName string
	Action      string
	Data        map[string]any
	CreatedAt   time.Time
}

// ActivityRepository appends audit entries.
type ActivityRepository interface {
	Record(ctx context.Context, activity *Activity) error
}
