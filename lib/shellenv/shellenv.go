// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package shellenv projects a session descriptor into the shell
// environment, either as eval-able export text (sh and fish dialects)
// or as mutations of the current process environment ahead of
// delegating to another tool.
package shellenv

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/keymux/keymux/lib/gpg"
	"github.com/keymux/keymux/lib/ipc"
)

// Dialect selects the shell syntax for WriteExports.
type Dialect int

const (
	// DialectSh emits POSIX "export NAME='value'" lines.
	DialectSh Dialect = iota

	// DialectFish emits fish "set -x NAME 'value';" records.
	DialectFish
)

// quote wraps a value for single-quoted interpolation in the given
// dialect. Socket paths are attacker-influenced text as far as the
// eval'ing shell is concerned, so a quote character in the value must
// not terminate the quoting.
func quote(value string, dialect Dialect) string {
	if dialect == DialectFish {
		// Inside fish single quotes, backslash and quote are the only
		// escapable characters.
		value = strings.ReplaceAll(value, `\`, `\\`)
		return strings.ReplaceAll(value, `'`, `\'`)
	}
	return strings.ReplaceAll(value, `'`, `'\''`)
}

// WriteExports writes the descriptor's environment variables to w in
// the given dialect: GPG_AGENT_INFO first for gpg sessions, then
// SSH_AUTH_SOCK and SSH_AGENT_PID. Total over well-formed
// descriptors — formatting itself never fails.
func WriteExports(w io.Writer, descriptor *ipc.SessionDescriptor, dialect Dialect) error {
	emit := func(name, value string) error {
		switch dialect {
		case DialectFish:
			_, err := fmt.Fprintf(w, "set -x %s '%s';", name, quote(value, dialect))
			return err
		default:
			_, err := fmt.Fprintf(w, "export %s='%s'\n", name, quote(value, dialect))
			return err
		}
	}

	if descriptor.Kind == ipc.AgentGPG {
		if err := emit("GPG_AGENT_INFO", descriptor.GPGAgentInfo()); err != nil {
			return err
		}
	}
	if err := emit("SSH_AUTH_SOCK", descriptor.SocketPath); err != nil {
		return err
	}
	return emit("SSH_AGENT_PID", fmt.Sprintf("%d", descriptor.PID))
}

// Apply sources the session into the current process: for a gpg
// session it first notifies the agent of the controlling terminal
// (one UpdateStartupTTY protocol call against the control socket, so
// pinentry prompts land on this terminal), then sets SSH_AUTH_SOCK so
// that delegated programs inherit the agent.
func Apply(descriptor *ipc.SessionDescriptor) error {
	if descriptor.Kind == ipc.AgentGPG && descriptor.ControlPath != "" {
		agent, err := gpg.Connect(descriptor.ControlPath)
		if err != nil {
			return fmt.Errorf("notifying gpg-agent of terminal: %w", err)
		}
		updateErr := agent.UpdateStartupTTY()
		agent.Close()
		if updateErr != nil {
			return fmt.Errorf("notifying gpg-agent of terminal: %w", updateErr)
		}
	}

	if err := os.Setenv("SSH_AUTH_SOCK", descriptor.SocketPath); err != nil {
		return fmt.Errorf("setting SSH_AUTH_SOCK: %w", err)
	}
	return nil
}
