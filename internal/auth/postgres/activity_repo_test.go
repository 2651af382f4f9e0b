// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

func TestActivityRepository_Record(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &auth.Activity{
		ID:          ulid.Make(),
		IdentityID:  ulid.Make(),
		ServiceName: auth.ServiceName,
		Action:      auth.ActionLogin,
		Data:        map[string]any{"client_ip": "203.0.113.7"},
		CreatedAt:   now,
	}

	t.Run("success", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO user_activity`).
			WithArgs(entry.ID.String(), entry.IdentityID.String(), "auth_service", "login",
				[]byte(`{"client_ip":"203.0.113.7"}`), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewActivityRepository(mock).Record(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO user_activity`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))

		err := NewActivityRepository(mock).Record(context.Background(), entry)
		errutil.AssertErrorCode(t, err, "ACTIVITY_RECORD_FAILED")
		errutil.AssertErrorContext(t, err, "action", "login")
	})
}
