// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"os"
)

// SocketEnvVar overrides the broker socket path for both the client
// and the daemon. A leading "@" selects the Linux abstract namespace
// (translated to a leading NUL by the net package), in which case no
// filesystem entry exists for the socket.
const SocketEnvVar = "KEYMUX_SOCKET"

// BrokerSocketPath resolves the well-known broker endpoint for the
// current user: the KEYMUX_SOCKET override when set, otherwise a
// keymux directory under XDG_RUNTIME_DIR, otherwise a per-uid path
// under /tmp for systems without a runtime directory.
func BrokerSocketPath() string {
	if path := os.Getenv(SocketEnvVar); path != "" {
		return path
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir + "/keymux/broker.sock"
	}
	return fmt.Sprintf("/tmp/keymux-%d/broker.sock", os.Getuid())
}

// Abstract reports whether a socket path names the abstract namespace.
// Abstract sockets have no filesystem entry, so directory creation,
// stale-socket removal, and chmod do not apply to them.
func Abstract(path string) bool {
	return len(path) > 0 && path[0] == '@'
}
