// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// ProtocolVersion is the broker wire protocol version. The daemon
// rejects requests carrying any other value, so mixed client/daemon
// builds fail loudly instead of misinterpreting each other.
const ProtocolVersion = 1

// AgentKind selects which flavor of authentication agent a session
// is backed by.
type AgentKind int

const (
	// AgentSSH is an ssh-agent style agent: an authentication socket
	// for signing operations and nothing else.
	AgentSSH AgentKind = iota

	// AgentGPG is a gpg-agent style agent: an authentication socket
	// plus a control socket supporting passphrase caching and
	// presetting.
	AgentGPG

	// AgentDefault lets the daemon choose its configured default kind.
	AgentDefault
)

// ParseAgentKind maps a user-supplied agent name to its kind.
// Recognized names are "ssh-agent"/"ssh" and "gpg-agent"/"gpg".
func ParseAgentKind(name string) (AgentKind, error) {
	switch name {
	case "ssh-agent", "ssh":
		return AgentSSH, nil
	case "gpg-agent", "gpg":
		return AgentGPG, nil
	default:
		return AgentDefault, fmt.Errorf("unknown agent %q (expected ssh-agent or gpg-agent)", name)
	}
}

// Valid reports whether k is a recognized agent kind.
func (k AgentKind) Valid() bool {
	return k == AgentSSH || k == AgentGPG || k == AgentDefault
}

func (k AgentKind) String() string {
	switch k {
	case AgentSSH:
		return "ssh-agent"
	case AgentGPG:
		return "gpg-agent"
	case AgentDefault:
		return "default"
	default:
		return fmt.Sprintf("AgentKind(%d)", int(k))
	}
}

// Status describes the state of a brokered agent session. This is the
// single authoritative enumeration for both halves of the protocol —
// the daemon only ever sends these values and the client only ever
// switches over them.
type Status int

const (
	// StatusRunning means the session's agent was already running and
	// the descriptor is usable as-is.
	StatusRunning Status = iota

	// StatusFirstRun means a fresh agent was started to satisfy this
	// request. Clients use this to decide whether to auto-add keys.
	StatusFirstRun

	// StatusBadUser means the requesting user is not entitled to this
	// agent. Fatal to the invocation, never retried.
	StatusBadUser

	// StatusStopped means no session exists and the request did not
	// ask to start one. A clean no-op for the client.
	StatusStopped

	// StatusFailed means the daemon could not bring up an agent. The
	// failure detail stays in the daemon's own log.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFirstRun:
		return "first-run"
	case StatusBadUser:
		return "bad-user"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Request is a CBOR-encoded session request from the client to the
// daemon, sent over the broker's Unix socket. One request/response
// pair per connection.
type Request struct {
	// Version is the protocol version the client speaks. Must equal
	// ProtocolVersion.
	Version int `cbor:"version"`

	// Kind is the desired agent kind. AgentDefault lets the daemon
	// pick its configured default.
	Kind AgentKind `cbor:"kind"`

	// Start asks the daemon to start an agent if no live session
	// exists for the requesting user. When false and no session
	// exists, the daemon answers StatusStopped.
	Start bool `cbor:"start"`
}

// SessionDescriptor describes one brokered agent session. It is
// constructed fresh per request/response round trip and never cached
// by the client; the PID it names belongs to a long-running agent
// shared across many client invocations.
type SessionDescriptor struct {
	// PID is the process id of the backing agent. Used only for
	// signaling (SIGHUP to clear the cache, SIGTERM to terminate).
	PID int `cbor:"pid,omitempty"`

	// Status reports the session state. SocketPath is populated
	// whenever Status is StatusRunning or StatusFirstRun.
	Status Status `cbor:"status"`

	// Kind is the agent kind backing this session.
	Kind AgentKind `cbor:"kind"`

	// SocketPath is the ssh-agent-compatible authentication socket.
	SocketPath string `cbor:"socket_path,omitempty"`

	// ControlPath is the gpg-agent-compatible control socket.
	// Meaningful only when Kind is AgentGPG.
	ControlPath string `cbor:"control_path,omitempty"`
}

// Validate checks the descriptor invariants after decoding. A daemon
// response violating them is treated as malformed by the client.
func (d *SessionDescriptor) Validate() error {
	switch d.Status {
	case StatusRunning, StatusFirstRun:
		if d.SocketPath == "" {
			return fmt.Errorf("%s session has empty socket path", d.Status)
		}
		if d.Kind == AgentGPG && d.ControlPath == "" {
			return fmt.Errorf("%s gpg session has empty control path", d.Status)
		}
	case StatusBadUser, StatusStopped, StatusFailed:
		// No payload expectations.
	default:
		return fmt.Errorf("unrecognized session status %d", int(d.Status))
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unrecognized agent kind %d", int(d.Kind))
	}
	return nil
}

// GPGAgentInfo returns the GPG_AGENT_INFO environment value for a gpg
// session: "<control socket>:<pid>:<assuan protocol version>".
func (d *SessionDescriptor) GPGAgentInfo() string {
	return fmt.Sprintf("%s:%d:1", d.ControlPath, d.PID)
}
