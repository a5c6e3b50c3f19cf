// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package gpg

import (
	"fmt"

	"github.com/keymux/keymux/lib/secret"
)

// UnlockError reports the first fingerprint whose passphrase preset
// was rejected. The batch stops there; remaining fingerprints are
// never attempted.
type UnlockError struct {
	Fingerprint Fingerprint
	Err         error
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("failed to unlock key '%s': %v", e.Fingerprint, e.Err)
}

func (e *UnlockError) Unwrap() error { return e.Err }

// PromptFunc supplies a passphrase when the caller did not. The
// returned buffer is closed by Unlock.
type PromptFunc func() (*secret.Buffer, error)

// Unlock presets one passphrase for every key loaded in the agent at
// controlPath. When passphrase is nil, prompt is invoked first —
// prompting is a side effect of this call, not a precondition.
//
// All cached keys in one agent share one human-supplied passphrase in
// this workflow, so the first rejection aborts the batch: the
// passphrase is almost certainly wrong for the whole session, some
// agents rate-limit repeated failures, and a partial success report
// would mislead. The failing fingerprint travels in the returned
// *UnlockError.
func Unlock(controlPath string, passphrase *secret.Buffer, prompt PromptFunc) error {
	client, err := Connect(controlPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if passphrase == nil {
		if prompt == nil {
			return fmt.Errorf("no passphrase supplied and no prompt available")
		}
		passphrase, err = prompt()
		if err != nil {
			return err
		}
		defer passphrase.Close()
	}

	fingerprints, err := client.KeyInfo()
	if err != nil {
		return fmt.Errorf("listing loaded keys: %w", err)
	}

	for _, fingerprint := range fingerprints {
		if err := client.PresetPassphrase(fingerprint, passphrase); err != nil {
			return &UnlockError{Fingerprint: fingerprint, Err: err}
		}
	}
	return nil
}
