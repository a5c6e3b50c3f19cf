// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/keymux/keymux/lib/codec"
	"github.com/keymux/keymux/lib/ipc"
)

// ErrUnauthorized is returned when the daemon refuses the requesting
// user. Fatal to the invocation, never retried.
var ErrUnauthorized = errors.New("connection rejected, user is unauthorized to use this agent")

// ErrAgentStartFailed is returned when the daemon could not bring up
// an agent. The failure detail lives in the daemon's own log — the
// daemon is a different trust domain and its startup errors are
// opaque to the client by design.
var ErrAgentStartFailed = errors.New("agent failed to start, check the keymuxd log")

// TransportError wraps any failure to complete the request/response
// round trip: connect refused, write failure, partial or malformed
// response. Always fatal, never retried.
type TransportError struct {
	Socket string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker at %s: %v", e.Socket, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client performs session requests against a broker socket.
type Client struct {
	// Socket is the broker endpoint. Empty means the well-known path
	// from ipc.BrokerSocketPath.
	Socket string
}

// RequestSession asks the broker for a session of the given kind,
// optionally starting an agent if none exists. The context's deadline
// bounds the whole round trip; without one a 30 second deadline
// applies, matching the daemon's handler timeout.
//
// Status interpretation is part of the contract:
//
//   - StatusRunning, StatusFirstRun: success, descriptor usable as-is
//   - StatusStopped: success, descriptor carries no session — the
//     caller should treat the invocation as a clean no-op
//   - StatusBadUser: ErrUnauthorized
//   - StatusFailed: ErrAgentStartFailed
//
// The kind is validated before any I/O; no environment is mutated and
// no process is spawned.
func (c *Client) RequestSession(ctx context.Context, kind ipc.AgentKind, start bool) (*ipc.SessionDescriptor, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid agent kind %d", int(kind))
	}

	socket := c.Socket
	if socket == "" {
		socket = ipc.BrokerSocketPath()
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, &TransportError{Socket: socket, Err: err}
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	conn.SetDeadline(deadline)

	request := ipc.Request{
		Version: ipc.ProtocolVersion,
		Kind:    kind,
		Start:   start,
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, &TransportError{Socket: socket, Err: fmt.Errorf("sending request: %w", err)}
	}

	var descriptor ipc.SessionDescriptor
	if err := codec.NewDecoder(conn).Decode(&descriptor); err != nil {
		return nil, &TransportError{Socket: socket, Err: fmt.Errorf("reading response: %w", err)}
	}
	if err := descriptor.Validate(); err != nil {
		return nil, &TransportError{Socket: socket, Err: fmt.Errorf("malformed response: %w", err)}
	}

	switch descriptor.Status {
	case ipc.StatusBadUser:
		return nil, ErrUnauthorized
	case ipc.StatusFailed:
		return nil, ErrAgentStartFailed
	}
	return &descriptor, nil
}
