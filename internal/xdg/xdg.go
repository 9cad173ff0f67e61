// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package xdg locates pharmadiet files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "pharmadiet"

// ConfigFileName is the file FindConfig looks for.
const ConfigFileName = "config.yaml"

// ConfigDir returns the pharmadiet config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// FindConfig returns the path of config.yaml in ConfigDir, or "" when the
// file does not exist.
func FindConfig() (string, error) {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if info.IsDir() {
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
