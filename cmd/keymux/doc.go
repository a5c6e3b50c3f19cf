// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// keymux is the client for the keymux session broker. It fetches (or
// triggers the start of) a shared authentication agent session from
// keymuxd, sources the agent into the environment or prints
// shell-eval exports, and dispatches the requested action: adding
// keys via ssh-add, clearing or killing the agent, listing loaded
// keys, or unlocking a gpg-agent keyring with a preset passphrase.
package main
