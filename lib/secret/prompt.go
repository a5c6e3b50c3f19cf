// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptError wraps any failure of the interactive password prompt:
// no terminal, terminal mode change failure, or read failure. Always
// fatal to the invocation — there is no retry.
type PromptError struct {
	Err error
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("password prompt: %v", e.Err)
}

func (e *PromptError) Unwrap() error { return e.Err }

// PromptPassword prints prompt to stderr and reads one line from the
// terminal with echo disabled, returning it in a protected buffer.
// term.ReadPassword saves the terminal mode, clears the echo flag for
// the duration of the read, and restores the saved mode before
// returning; a signal that kills the process mid-read skips the
// restore, which is the accepted limitation of this flow.
//
// The returned line never includes the terminator. An empty line is
// an error: an empty passphrase cannot unlock anything, and rejecting
// it here beats sending it to the agent.
func PromptPassword(prompt string) (*Buffer, error) {
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, &PromptError{Err: fmt.Errorf("stdin is not a terminal")}
	}

	fmt.Fprint(os.Stderr, prompt)
	line, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, &PromptError{Err: err}
	}
	if len(line) == 0 {
		return nil, &PromptError{Err: fmt.Errorf("empty password")}
	}

	buffer, err := NewFromBytes(line)
	if err != nil {
		Zero(line)
		return nil, &PromptError{Err: err}
	}
	return buffer, nil
}
