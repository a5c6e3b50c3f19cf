// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package sshadd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveKeyPathExisting(t *testing.T) {
	directory := t.TempDir()
	existing := filepath.Join(directory, "deploy_key")
	if err := os.WriteFile(existing, []byte("key"), 0600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	if got := ResolveKeyPath("/home/operator", existing); got != existing {
		t.Errorf("ResolveKeyPath(existing) = %q, want %q unchanged", got, existing)
	}
}

func TestResolveKeyPathBareFilename(t *testing.T) {
	// No file named id_rsa in the working directory: the fragment is
	// assumed to live under home/.ssh.
	got := ResolveKeyPath("/home/operator", "id_rsa")
	if got != "/home/operator/.ssh/id_rsa" {
		t.Errorf("ResolveKeyPath = %q", got)
	}
}

func TestAddKeysArgv(t *testing.T) {
	t.Setenv("HOME", "/home/operator")

	var captured []string
	delegate := &Delegate{
		Exec: func(argv0 string, argv []string, envv []string) error {
			captured = argv
			return nil
		},
	}

	if err := delegate.AddKeys([]string{"id_rsa", "id_ed25519"}); err != nil {
		t.Fatalf("AddKeys: %v", err)
	}

	want := []string{"ssh-add", "--", "/home/operator/.ssh/id_rsa", "/home/operator/.ssh/id_ed25519"}
	if strings.Join(captured, " ") != strings.Join(want, " ") {
		t.Errorf("argv = %v, want %v", captured, want)
	}
}

func TestListKeysArgv(t *testing.T) {
	var captured []string
	delegate := &Delegate{
		Exec: func(argv0 string, argv []string, envv []string) error {
			captured = argv
			return nil
		},
	}

	if err := delegate.ListKeys(); err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if strings.Join(captured, " ") != "ssh-add -l" {
		t.Errorf("argv = %v", captured)
	}
}

func TestExecFailureIsDelegateError(t *testing.T) {
	execErr := errors.New("exec format error")
	delegate := &Delegate{
		Exec: func(argv0 string, argv []string, envv []string) error {
			return execErr
		},
	}

	err := delegate.ListKeys()
	var delegateError *DelegateError
	if !errors.As(err, &delegateError) {
		t.Fatalf("err = %v, want *DelegateError", err)
	}
	if !errors.Is(err, execErr) {
		t.Errorf("exec error not wrapped: %v", err)
	}
}

func TestMissingBinaryIsDelegateError(t *testing.T) {
	// An empty PATH makes LookPath fail before any exec happens.
	t.Setenv("PATH", "")

	delegate := &Delegate{
		Exec: func(argv0 string, argv []string, envv []string) error {
			t.Fatal("exec called despite missing binary")
			return nil
		},
	}

	err := delegate.ListKeys()
	var delegateError *DelegateError
	if !errors.As(err, &delegateError) {
		t.Fatalf("err = %v, want *DelegateError", err)
	}
}
