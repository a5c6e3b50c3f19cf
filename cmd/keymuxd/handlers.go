// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/keymux/keymux/lib/codec"
	"github.com/keymux/keymux/lib/ipc"
)

// session tracks one supervised agent. The descriptor is rebuilt per
// response so each client gets the status appropriate to its request.
type session struct {
	pid         int
	kind        ipc.AgentKind
	socketPath  string
	controlPath string
}

// Broker answers session requests on the keymux socket. The serve
// loop handles connections concurrently; the sessions map and agent
// spawning are serialized by mu, which also gives at-most-one
// concurrent agent start per daemon.
type Broker struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[uint32]*session

	// runAgent starts an agent command and returns its environment
	// output. Nil means runAgentCommand. Injectable for testing.
	runAgent func(argv []string, uid uint32) ([]byte, error)
}

func newBroker(config *Config, logger *slog.Logger) *Broker {
	return &Broker{
		config:   config,
		logger:   logger,
		sessions: make(map[uint32]*session),
	}
}

// serve accepts connections until the listener closes.
func (b *Broker) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			b.logger.Error("accept error", "error", err)
			continue
		}
		go b.handleConnection(conn)
	}
}

// handleConnection processes a single request/response cycle.
func (b *Broker) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Bound the whole request/response cycle, including agent startup.
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	encoder := codec.NewEncoder(conn)

	peer, err := peerUID(conn)
	if err != nil {
		b.logger.Error("resolving peer credentials", "error", err)
		_ = encoder.Encode(ipc.SessionDescriptor{Status: ipc.StatusFailed})
		return
	}

	var request ipc.Request
	if err := codec.NewDecoder(conn).Decode(&request); err != nil {
		b.logger.Error("decoding request", "uid", peer, "error", err)
		_ = encoder.Encode(ipc.SessionDescriptor{Status: ipc.StatusFailed})
		return
	}

	b.logger.Info("session request",
		"uid", peer,
		"kind", request.Kind.String(),
		"start", request.Start,
	)

	response := b.answer(peer, &request)
	if err := encoder.Encode(response); err != nil {
		b.logger.Error("encoding response", "uid", peer, "error", err)
	}
}

// answer applies the authorization and session policy for one request.
func (b *Broker) answer(peer uint32, request *ipc.Request) *ipc.SessionDescriptor {
	if request.Version != ipc.ProtocolVersion {
		b.logger.Error("protocol version mismatch",
			"uid", peer,
			"got", request.Version,
			"want", ipc.ProtocolVersion,
		)
		return &ipc.SessionDescriptor{Status: ipc.StatusFailed}
	}
	if !request.Kind.Valid() {
		b.logger.Error("invalid agent kind", "uid", peer, "kind", int(request.Kind))
		return &ipc.SessionDescriptor{Status: ipc.StatusFailed}
	}

	// The daemon can only act for users it can start processes as:
	// everyone when root, itself otherwise.
	if os.Getuid() != 0 && peer != uint32(os.Getuid()) {
		b.logger.Warn("rejecting foreign uid", "uid", peer)
		return &ipc.SessionDescriptor{Status: ipc.StatusBadUser}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing := b.sessions[peer]; existing != nil {
		if agentAlive(existing.pid) {
			return &ipc.SessionDescriptor{
				PID:         existing.pid,
				Status:      ipc.StatusRunning,
				Kind:        existing.kind,
				SocketPath:  existing.socketPath,
				ControlPath: existing.controlPath,
			}
		}
		b.logger.Info("dropping dead session", "uid", peer, "pid", existing.pid)
		delete(b.sessions, peer)
	}

	if !request.Start {
		return &ipc.SessionDescriptor{Status: ipc.StatusStopped, Kind: request.Kind}
	}

	descriptor, err := b.startAgent(peer, request.Kind)
	if err != nil {
		b.logger.Error("starting agent", "uid", peer, "kind", request.Kind.String(), "error", err)
		return &ipc.SessionDescriptor{Status: ipc.StatusFailed}
	}
	return descriptor
}

// startAgent spawns the configured agent command for a user and
// records the session. Caller holds b.mu.
func (b *Broker) startAgent(peer uint32, kind ipc.AgentKind) (*ipc.SessionDescriptor, error) {
	kind, argv, err := b.config.agentCommand(kind)
	if err != nil {
		return nil, err
	}

	run := b.runAgent
	if run == nil {
		run = runAgentCommand
	}
	output, err := run(argv, peer)
	if err != nil {
		return nil, err
	}

	descriptor, err := descriptorFromEnv(kind, parseAgentEnv(output))
	if err != nil {
		return nil, err
	}

	b.sessions[peer] = &session{
		pid:         descriptor.PID,
		kind:        descriptor.Kind,
		socketPath:  descriptor.SocketPath,
		controlPath: descriptor.ControlPath,
	}
	b.logger.Info("agent started",
		"uid", peer,
		"kind", descriptor.Kind.String(),
		"pid", descriptor.PID,
		"socket", descriptor.SocketPath,
	)
	return descriptor, nil
}

// shutdownAgents terminates every supervised agent. Broker state is
// process-local, so agents left running would be orphaned with no way
// to hand them to a restarted daemon.
func (b *Broker) shutdownAgents() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for uid, existing := range b.sessions {
		if err := unix.Kill(existing.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			b.logger.Warn("terminating agent", "uid", uid, "pid", existing.pid, "error", err)
		} else {
			b.logger.Info("agent terminated", "uid", uid, "pid", existing.pid)
		}
		delete(b.sessions, uid)
	}
}

// agentAlive probes a pid with signal 0. EPERM means the process
// exists but belongs to someone else (a root daemon probing a user's
// agent), which still counts as alive.
func agentAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// peerUID reads the connecting process's uid from the socket.
func peerUID(conn net.Conn) (uint32, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("connection is %T, not a unix socket", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var credential *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		credential, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return credential.Uid, nil
}
