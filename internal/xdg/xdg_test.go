// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/authsvc", ConfigDir())
}

func TestConfigDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	assert.Equal(t, "/home/testuser/.config/authsvc", ConfigDir())
}

func TestSystemConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_DIRS", "")
	assert.Equal(t, "/etc/authsvc", SystemConfigDir())

	t.Setenv("XDG_CONFIG_DIRS", "/opt/conf"+string(os.PathListSeparator)+"/other")
	assert.Equal(t, "/opt/conf/authsvc", SystemConfigDir())
}

func TestConfigFile(t *testing.T) {
	user := t.TempDir()
	system := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", user)
	t.Setenv("XDG_CONFIG_DIRS", system)

	_, ok := ConfigFile()
	assert.False(t, ok, "no config file present")

	systemFile := filepath.Join(system, "authsvc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(systemFile), 0o700))
	require.NoError(t, os.WriteFile(systemFile, []byte("log:\n  level: debug\n"), 0o600))

	path, ok := ConfigFile()
	require.True(t, ok)
	assert.Equal(t, systemFile, path)

	userFile := filepath.Join(user, "authsvc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userFile), 0o700))
	require.NoError(t, os.WriteFile(userFile, []byte("log:\n  level: warn\n"), 0o600))

	path, ok = ConfigFile()
	require.True(t, ok)
	assert.Equal(t, userFile, path, "user config wins over system config")

	t.Run("directory named config.yaml is ignored", func(t *testing.T) {
		empty := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", empty)
		t.Setenv("XDG_CONFIG_DIRS", empty)
		require.NoError(t, os.MkdirAll(filepath.Join(empty, "authsvc", "config.yaml"), 0o700))
		_, ok := ConfigFile()
		assert.False(t, ok)
	})
}
