// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for keymux packages.
package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory suitable for Unix domain
// sockets. Socket paths are limited to 108 bytes (sun_path in
// sockaddr_un) and t.TempDir() can exceed that under build systems
// that nest their test tmpdirs, so this creates a short-named
// directory directly in /tmp. Removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "keymux-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
