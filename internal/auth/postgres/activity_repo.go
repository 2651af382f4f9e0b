// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/internal/auth"
)

// ActivityRepository implements auth.ActivityRepository using PostgreSQL.
type ActivityRepository struct {
	db DB
}

// Compile-time interface check.
var _ auth.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Record appends an audit entry.
func (r *ActivityRepository) Record(ctx context.Context, activity *auth.Activity) error {
	data, err := marshalJSON(activity.Data)
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").
			With("operation", "marshal activity data").
			With("action", activity.Action).
			Wrap(err)
	}

	_, err = conn(ctx, r.db).Exec(ctx, `
		INSERT INTO user_activity (id, user_id, service_name, action, activity_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		activity.ID.String(),
		activity.IdentityID.String(),
		activity.ServiceName,
		activity.Action,
		data,
		activity.CreatedAt,
	)
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").
			With("operation", "insert activity").
			With("action", activity.Action).
			Wrap(err)
	}
	return nil
}
