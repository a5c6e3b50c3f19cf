// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on the broker socket.
// Encoding is deterministic (RFC 8949 Core Deterministic Encoding) and
// decoding tolerates unknown fields, which together make the wire
// format a versionable contract between client and daemon builds.
package codec
