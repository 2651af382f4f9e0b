// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/ingeniia/authsvc/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("BAD_CREDENTIALS").Errorf("invalid email or password")
	errutil.AssertErrorCode(t, err, "BAD_CREDENTIALS")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("identity_id", "01J0000000000000000000000").Errorf("test error")
	errutil.AssertErrorContext(t, err, "identity_id", "01J0000000000000000000000")
}
