// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package gpg speaks the line-oriented assuan command protocol to a
// gpg-agent control socket: terminal notification, key inventory, and
// passphrase presetting.
//
// The control socket is dialed directly, never through the broker —
// being able to open it at all is the capability check. [Unlock] is
// the batch entry point used by "keymux --unlock": it presets one
// passphrase for every loaded key and stops at the first rejection.
package gpg
