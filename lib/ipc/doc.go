// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the
// client↔daemon broker socket protocol. Both cmd/keymux and
// cmd/keymuxd import this package so the wire types and the session
// status enumeration are defined once rather than mirrored.
package ipc
