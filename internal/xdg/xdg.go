// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package xdg resolves the XDG Base Directory locations authsvc reads its
// configuration from.
package xdg

import (
	"os"
	"path/filepath"
)

const (
	appName        = "authsvc"
	configFileName = "config.yaml"
)

// ConfigDir returns the XDG config directory for authsvc.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// SystemConfigDir returns the system-wide config directory, honouring the
// first entry of XDG_CONFIG_DIRS.
func SystemConfigDir() string {
	dirs := filepath.SplitList(os.Getenv("XDG_CONFIG_DIRS"))
	if len(dirs) == 0 || dirs[0] == "" {
		return filepath.Join("/etc", appName)
	}
	return filepath.Join(dirs[0], appName)
}

// ConfigFile returns the first config.yaml found in the user then system
// config directory. ok is false when neither exists.
func ConfigFile() (path string, ok bool) {
	for _, dir := range []string{ConfigDir(), SystemConfigDir()} {
		candidate := filepath.Join(dir, configFileName)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}
