// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package gpg

import (
	"errors"
	"strings"
	"testing"

	"github.com/keymux/keymux/lib/secret"
)

const (
	gripA = "AAAA000000000000000000000000000000000000"
	gripB = "BBBB000000000000000000000000000000000000"
	gripC = "CCCC000000000000000000000000000000000000"
)

// keyInfoResponse builds the KEYINFO --list response for three keys.
func keyInfoResponse() string {
	var builder strings.Builder
	for _, grip := range []string{gripA, gripB, gripC} {
		builder.WriteString("S KEYINFO " + grip + " D - - 1 P - - -\n")
	}
	builder.WriteString("OK\n")
	return builder.String()
}

func mustPassphrase(t *testing.T) *secret.Buffer {
	t.Helper()
	passphrase, err := secret.NewFromBytes([]byte("shared-passphrase"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { passphrase.Close() })
	return passphrase
}

func TestUnlockAllKeys(t *testing.T) {
	agent := startMockAgent(t, func(command string) string {
		if command == "KEYINFO --list" {
			return keyInfoResponse()
		}
		return "OK\n"
	})

	if err := Unlock(agent.socket, mustPassphrase(t), nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	var presets []string
	for _, command := range agent.recorded() {
		if strings.HasPrefix(command, "PRESET_PASSPHRASE ") {
			presets = append(presets, strings.Fields(command)[1])
		}
	}
	if len(presets) != 3 {
		t.Fatalf("presets = %v, want all three keys", presets)
	}
}

func TestUnlockStopsAtFirstFailure(t *testing.T) {
	// Preset fails on B: A and B are attempted, C never is.
	agent := startMockAgent(t, func(command string) string {
		if command == "KEYINFO --list" {
			return keyInfoResponse()
		}
		if strings.HasPrefix(command, "PRESET_PASSPHRASE "+gripB) {
			return "ERR 67108881 Bad passphrase <GPG Agent>\n"
		}
		return "OK\n"
	})

	err := Unlock(agent.socket, mustPassphrase(t), nil)
	var unlockError *UnlockError
	if !errors.As(err, &unlockError) {
		t.Fatalf("err = %v, want *UnlockError", err)
	}
	if unlockError.Fingerprint != gripB {
		t.Errorf("failing fingerprint = %q, want %q", unlockError.Fingerprint, gripB)
	}

	var presets []string
	for _, command := range agent.recorded() {
		if strings.HasPrefix(command, "PRESET_PASSPHRASE ") {
			presets = append(presets, strings.Fields(command)[1])
		}
	}
	if len(presets) != 2 || presets[0] != gripA || presets[1] != gripB {
		t.Errorf("attempted presets = %v, want [A B] only", presets)
	}
}

func TestUnlockPromptsWhenNoPassphrase(t *testing.T) {
	agent := startMockAgent(t, func(command string) string {
		if command == "KEYINFO --list" {
			return "S KEYINFO " + gripA + " D - - 1 P - - -\nOK\n"
		}
		return "OK\n"
	})

	prompted := false
	prompt := func() (*secret.Buffer, error) {
		prompted = true
		return secret.NewFromBytes([]byte("from-prompt"))
	}

	if err := Unlock(agent.socket, nil, prompt); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !prompted {
		t.Error("prompt was not invoked")
	}
}

func TestUnlockPromptFailure(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	promptErr := errors.New("no terminal")
	err := Unlock(agent.socket, nil, func() (*secret.Buffer, error) {
		return nil, promptErr
	})
	if !errors.Is(err, promptErr) {
		t.Fatalf("err = %v, want prompt error", err)
	}
}

func TestUnlockNoAgent(t *testing.T) {
	if err := Unlock("/nonexistent/S.gpg-agent", mustPassphrase(t), nil); err == nil {
		t.Error("Unlock against missing socket succeeded")
	}
}
