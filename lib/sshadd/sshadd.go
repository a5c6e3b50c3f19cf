// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshadd hands control to the ssh-add binary for key adding
// and listing. Delegation uses process replacement: on success the
// call never returns, so the delegated tool owns the terminal, the
// exit code, and any passphrase interaction.
package sshadd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DelegateError means the external tool could not be executed. This
// is the only way a delegation returns to the caller.
type DelegateError struct {
	Tool string
	Err  error
}

func (e *DelegateError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Tool, e.Err)
}

func (e *DelegateError) Unwrap() error { return e.Err }

// Delegate runs ssh-add with resolved key paths, replacing the
// current process.
type Delegate struct {
	// Exec replaces the process image. Nil means unix.Exec.
	// Injectable so tests can capture the argv without exec'ing.
	Exec func(argv0 string, argv []string, envv []string) error
}

// ResolveKeyPath maps a user-supplied key fragment to a path for
// ssh-add. A fragment naming an existing filesystem entry is returned
// unchanged; anything else is treated as a bare filename under
// home/.ssh. No existence check is made on the constructed path —
// ssh-add validates it and reports the miss itself.
func ResolveKeyPath(home, fragment string) string {
	if _, err := os.Stat(fragment); err == nil {
		return fragment
	}
	return filepath.Join(home, ".ssh", fragment)
}

// AddKeys resolves every fragment and replaces this process with
// "ssh-add -- <paths...>". Never returns on success.
func (d *Delegate) AddKeys(fragments []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return &DelegateError{Tool: "ssh-add", Err: fmt.Errorf("resolving home directory: %w", err)}
	}

	argv := []string{"ssh-add", "--"}
	for _, fragment := range fragments {
		argv = append(argv, ResolveKeyPath(home, fragment))
	}
	return d.exec(argv)
}

// ListKeys replaces this process with "ssh-add -l". Never returns on
// success.
func (d *Delegate) ListKeys() error {
	return d.exec([]string{"ssh-add", "-l"})
}

func (d *Delegate) exec(argv []string) error {
	binary, err := exec.LookPath(argv[0])
	if err != nil {
		return &DelegateError{Tool: argv[0], Err: err}
	}

	execFunc := d.Exec
	if execFunc == nil {
		execFunc = unix.Exec
	}
	if err := execFunc(binary, argv, os.Environ()); err != nil {
		return &DelegateError{Tool: argv[0], Err: err}
	}
	// Reached only with an injected Exec that returned nil.
	return nil
}
