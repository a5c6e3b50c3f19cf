// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

// keymuxd is the session broker daemon. It owns the well-known keymux
// socket, supervises at most one shared authentication agent per user,
// and answers client session requests: handing back the live session,
// starting an agent on demand, or refusing users it cannot act for.
// Session state lives only in this process; when keymuxd exits it
// terminates its agents and the slate is clean.
package main
