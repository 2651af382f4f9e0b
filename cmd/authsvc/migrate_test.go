// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingeniia/authsvc/internal/store"
	"github.com/ingeniia/authsvc/pkg/errutil"
)

type fakeMigrator struct {
	calls   []string
	forced  int
	status  *store.Status
	failErr error
	closed  bool
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.failErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return f.failErr
}

func (f *fakeMigrator) Steps(n int) error {
	if n < 0 {
		f.calls = append(f.calls, "step-down")
	} else {
		f.calls = append(f.calls, "step-up")
	}
	return f.failErr
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return f.failErr
}

func (f *fakeMigrator) Status() (*store.Status, error) {
	f.calls = append(f.calls, "status")
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.status, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

// runMigrate executes the root command with a fake migrator installed.
func runMigrate(t *testing.T, fake *fakeMigrator, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	isolateConfigDirs(t)
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/authsvc")

	original := newMigrator
	newMigrator = func(string) (migrator, error) { return fake, nil }
	t.Cleanup(func() { newMigrator = original })

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"migrate"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateUp(t *testing.T) {
	fake := &fakeMigrator{}
	out, err := runMigrate(t, fake, "up")
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, fake.calls)
	assert.True(t, fake.closed)
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrateDown(t *testing.T) {
	t.Run("one step by default", func(t *testing.T) {
		fake := &fakeMigrator{}
		_, err := runMigrate(t, fake, "down")
		require.NoError(t, err)
		assert.Equal(t, []string{"step-down"}, fake.calls)
	})

	t.Run("all rolls back everything", func(t *testing.T) {
		fake := &fakeMigrator{}
		out, err := runMigrate(t, fake, "down", "--all")
		require.NoError(t, err)
		assert.Equal(t, []string{"down"}, fake.calls)
		assert.Contains(t, out, "Rolling back all migrations")
	})

	t.Run("failure is returned and migrator closed", func(t *testing.T) {
		fake := &fakeMigrator{failErr: errors.New("dirty database")}
		_, err := runMigrate(t, fake, "down")
		require.Error(t, err)
		assert.True(t, fake.closed)
	})
}

func TestMigrateStatus(t *testing.T) {
	fake := &fakeMigrator{status: &store.Status{
		Version: 2,
		Dirty:   true,
		Applied: []uint{1, 2},
		Pending: []uint{3, 4},
	}}

	out, err := runMigrate(t, fake, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema version: 2 (dirty")
	assert.Contains(t, out, "Applied: 2")
	assert.Contains(t, out, "000001_users")
	assert.Contains(t, out, "Pending: 2")
	assert.Contains(t, out, "000004_user_activity")
}

func TestMigrateForce(t *testing.T) {
	fake := &fakeMigrator{}
	out, err := runMigrate(t, fake, "force", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, fake.forced)
	assert.Contains(t, out, "Forced schema version to 3")

	t.Run("non-numeric version", func(t *testing.T) {
		fake := &fakeMigrator{}
		_, err := runMigrate(t, fake, "force", "abc")
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Empty(t, fake.calls)
	})
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	configFile = ""
	isolateConfigDirs(t)
	t.Setenv("DATABASE_URL", "")
	called := false
	original := newMigrator
	newMigrator = func(string) (migrator, error) {
		called = true
		return &fakeMigrator{}, nil
	}
	t.Cleanup(func() { newMigrator = original })

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"migrate", "up"})

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.False(t, called)
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "plain", input: "7", want: 7},
		{name: "leading whitespace", input: "  42", want: 42},
		{name: "decimal truncates", input: "1.5", want: 1},
		{name: "trailing garbage", input: "3abc", want: 3},
		{name: "negative", input: "-1", want: -1},
		{name: "letters", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
