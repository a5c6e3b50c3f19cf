// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the client side of the keymux session
// protocol: one CBOR request/response round trip over the broker's
// Unix socket, yielding a validated session descriptor or one of the
// taxonomy errors ([TransportError], [ErrUnauthorized],
// [ErrAgentStartFailed]).
//
// The broker is assumed to be always-reachable infrastructure, so
// every transport failure is surfaced immediately with no retry and
// no fallback endpoint — silent retries would mask daemon
// misconfiguration.
package broker
