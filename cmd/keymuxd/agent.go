// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/keymux/keymux/lib/ipc"
)

// agentStartTimeout bounds how long an agent command may take to
// daemonize and print its environment.
const agentStartTimeout = 10 * time.Second

// parseAgentEnv extracts environment assignments from the sh-style
// output agents print when they daemonize, e.g.
//
//	SSH_AUTH_SOCK=/tmp/ssh-XXXX/agent.123; export SSH_AUTH_SOCK;
//	SSH_AGENT_PID=124; export SSH_AGENT_PID;
//	echo Agent pid 124;
//
// "export" and "echo" statements are skipped; quotes around values
// are stripped.
func parseAgentEnv(output []byte) map[string]string {
	variables := map[string]string{}
	for _, line := range strings.Split(string(output), "\n") {
		for _, statement := range splitStatements(line) {
			statement = strings.TrimSpace(statement)
			if statement == "" ||
				strings.HasPrefix(statement, "export ") ||
				strings.HasPrefix(statement, "echo ") {
				continue
			}
			equals := strings.IndexByte(statement, '=')
			if equals <= 0 {
				continue
			}
			name := statement[:equals]
			value := strings.Trim(statement[equals+1:], `"'`)
			variables[name] = value
		}
	}
	return variables
}

// splitStatements splits one output line on semicolons, leaving
// semicolons inside single or double quotes alone so a quoted socket
// path is not truncated mid-value.
func splitStatements(line string) []string {
	var statements []string
	var open byte
	start := 0
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case open != 0:
			if c == open {
				open = 0
			}
		case c == '\'' || c == '"':
			open = c
		case c == ';':
			statements = append(statements, line[start:i])
			start = i + 1
		}
	}
	return append(statements, line[start:])
}

// descriptorFromEnv builds a session descriptor from a started
// agent's environment output. The required variables depend on the
// kind: ssh agents report SSH_AUTH_SOCK and SSH_AGENT_PID, gpg
// agents report GPG_AGENT_INFO (control socket, pid) plus
// SSH_AUTH_SOCK from their ssh support.
func descriptorFromEnv(kind ipc.AgentKind, variables map[string]string) (*ipc.SessionDescriptor, error) {
	descriptor := &ipc.SessionDescriptor{Status: ipc.StatusFirstRun, Kind: kind}

	switch kind {
	case ipc.AgentSSH:
		descriptor.SocketPath = variables["SSH_AUTH_SOCK"]
		if descriptor.SocketPath == "" {
			return nil, fmt.Errorf("agent output missing SSH_AUTH_SOCK")
		}
		pid, err := strconv.Atoi(variables["SSH_AGENT_PID"])
		if err != nil {
			return nil, fmt.Errorf("agent output has bad SSH_AGENT_PID %q", variables["SSH_AGENT_PID"])
		}
		descriptor.PID = pid

	case ipc.AgentGPG:
		info := variables["GPG_AGENT_INFO"]
		if info == "" {
			return nil, fmt.Errorf("agent output missing GPG_AGENT_INFO")
		}
		fields := strings.Split(info, ":")
		if len(fields) < 2 {
			return nil, fmt.Errorf("agent output has bad GPG_AGENT_INFO %q", info)
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("agent output has bad GPG_AGENT_INFO pid %q", fields[1])
		}
		descriptor.ControlPath = fields[0]
		descriptor.PID = pid
		descriptor.SocketPath = variables["SSH_AUTH_SOCK"]
		if descriptor.SocketPath == "" {
			return nil, fmt.Errorf("agent output missing SSH_AUTH_SOCK (is ssh support enabled?)")
		}

	default:
		return nil, fmt.Errorf("cannot build descriptor for kind %s", kind)
	}
	return descriptor, nil
}

// runAgentCommand starts an agent command and returns its stdout. The
// command is expected to fork away; stdout closes when it has printed
// its environment. When the daemon runs as root and the requesting
// user differs, the agent is started with that user's credentials so
// the agent (and its sockets) belong to them.
func runAgentCommand(argv []string, uid uint32) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), agentStartTimeout)
	defer cancel()

	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if uid != uint32(os.Getuid()) {
		credential, err := credentialFor(uid)
		if err != nil {
			return nil, err
		}
		command.SysProcAttr = &syscall.SysProcAttr{Credential: credential}
	}

	output, err := command.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return output, nil
}

// credentialFor resolves the uid/gid pair for starting an agent as
// another user. Only reachable when the daemon runs as root.
func credentialFor(uid uint32) (*syscall.Credential, error) {
	account, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, fmt.Errorf("looking up uid %d: %w", uid, err)
	}
	gid, err := strconv.ParseUint(account.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad gid %q for uid %d: %w", account.Gid, uid, err)
	}
	return &syscall.Credential{Uid: uid, Gid: uint32(gid)}, nil
}
