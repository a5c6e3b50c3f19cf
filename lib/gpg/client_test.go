// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package gpg

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/keymux/keymux/lib/secret"
	"github.com/keymux/keymux/lib/testutil"
)

// mockAgent is a scripted assuan peer: it greets, then answers each
// command line via the handle function. Commands are recorded in
// order for assertions.
type mockAgent struct {
	socket string

	mu       sync.Mutex
	commands []string
}

// startMockAgent listens on a control socket and serves connections
// with handle. handle returns the full response (status lines plus
// the OK/ERR terminator) for one command.
func startMockAgent(t *testing.T, handle func(command string) string) *mockAgent {
	t.Helper()

	agent := &mockAgent{socket: filepath.Join(testutil.SocketDir(t), "S.gpg-agent")}
	listener, err := net.Listen("unix", agent.socket)
	if err != nil {
		t.Fatalf("listening on %s: %v", agent.socket, err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				fmt.Fprintf(conn, "OK Pleased to meet you\n")
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					command := strings.TrimRight(line, "\n")
					agent.mu.Lock()
					agent.commands = append(agent.commands, command)
					agent.mu.Unlock()
					if command == "BYE" {
						fmt.Fprintf(conn, "OK closing connection\n")
						return
					}
					fmt.Fprint(conn, handle(command))
				}
			}(conn)
		}
	}()
	return agent
}

func (a *mockAgent) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func okHandler(string) string { return "OK\n" }

func TestConnectReadsGreeting(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestConnectAcceptsAgentInfoForm(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	client, err := Connect(agent.socket + ":4321:1")
	if err != nil {
		t.Fatalf("Connect with info suffix: %v", err)
	}
	client.Close()
}

func TestConnectEmptyPath(t *testing.T) {
	if _, err := Connect(""); err == nil {
		t.Error("Connect(\"\") succeeded")
	}
}

func TestKeyInfo(t *testing.T) {
	agent := startMockAgent(t, func(command string) string {
		if command == "KEYINFO --list" {
			return "S KEYINFO 1122334455667788990011223344556677889900 D - - 1 P - - -\n" +
				"S KEYINFO AABBCCDDEEFF00112233445566778899AABBCCDD D - - - P - - -\n" +
				"OK\n"
		}
		return "OK\n"
	})

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	fingerprints, err := client.KeyInfo()
	if err != nil {
		t.Fatalf("KeyInfo: %v", err)
	}
	want := []Fingerprint{
		"1122334455667788990011223344556677889900",
		"AABBCCDDEEFF00112233445566778899AABBCCDD",
	}
	if len(fingerprints) != len(want) {
		t.Fatalf("KeyInfo returned %d fingerprints, want %d", len(fingerprints), len(want))
	}
	for index := range want {
		if fingerprints[index] != want[index] {
			t.Errorf("fingerprint %d = %q, want %q", index, fingerprints[index], want[index])
		}
	}
}

func TestKeyInfoEmpty(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	fingerprints, err := client.KeyInfo()
	if err != nil {
		t.Fatalf("KeyInfo: %v", err)
	}
	if len(fingerprints) != 0 {
		t.Errorf("KeyInfo on empty agent returned %v", fingerprints)
	}
}

func TestPresetPassphraseHexEncoding(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	passphrase, err := secret.NewFromBytes([]byte("correct horse"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer passphrase.Close()

	if err := client.PresetPassphrase("AABB", passphrase); err != nil {
		t.Fatalf("PresetPassphrase: %v", err)
	}

	expected := "PRESET_PASSPHRASE AABB -1 " + hex.EncodeToString([]byte("correct horse"))
	for _, command := range agent.recorded() {
		if command == expected {
			return
		}
	}
	t.Errorf("command %q not sent, got %v", expected, agent.recorded())
}

func TestPresetPassphraseErr(t *testing.T) {
	agent := startMockAgent(t, func(command string) string {
		if strings.HasPrefix(command, "PRESET_PASSPHRASE") {
			return "ERR 67108983 Operation cancelled <GPG Agent>\n"
		}
		return "OK\n"
	})

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	passphrase, err := secret.NewFromBytes([]byte("wrong"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer passphrase.Close()

	err = client.PresetPassphrase("AABB", passphrase)
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if protocolError.Code != 67108983 {
		t.Errorf("code = %d, want 67108983", protocolError.Code)
	}
}

func TestUpdateStartupTTYSendsUpdateCommand(t *testing.T) {
	agent := startMockAgent(t, okHandler)

	client, err := Connect(agent.socket)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.UpdateStartupTTY(); err != nil {
		t.Fatalf("UpdateStartupTTY: %v", err)
	}

	commands := agent.recorded()
	if len(commands) == 0 || commands[0] != "RESET" {
		t.Errorf("first command = %v, want RESET", commands)
	}
	var sawUpdate bool
	for _, command := range commands {
		if command == "UPDATESTARTUPTTY" {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Errorf("UPDATESTARTUPTTY not sent, got %v", commands)
	}
}
