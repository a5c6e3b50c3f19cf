// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package gpg

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/keymux/keymux/lib/secret"
)

// Fingerprint identifies one key loaded in the agent, as reported by
// KEYINFO (a hex keygrip).
type Fingerprint string

// ProtocolError is an ERR response from the agent.
type ProtocolError struct {
	// Command is the command that was rejected.
	Command string

	// Code is the numeric gpg-error code from the ERR line.
	Code int

	// Description is the human-readable remainder of the ERR line.
	Description string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Command, e.Description, e.Code)
}

// Client is one assuan session with a gpg-agent control socket.
// Single-threaded: one command in flight at a time.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Connect opens an assuan session. controlPath is either the bare
// control socket path or the GPG_AGENT_INFO form
// "path:pid:protocol"; anything after the first colon is ignored.
func Connect(controlPath string) (*Client, error) {
	path := controlPath
	if colon := strings.IndexByte(path, ':'); colon >= 0 {
		path = path[:colon]
	}
	if path == "" {
		return nil, fmt.Errorf("empty gpg-agent control path")
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to gpg-agent at %s: %w", path, err)
	}

	client := &Client{conn: conn, reader: bufio.NewReader(conn)}

	// The agent greets with an OK line before accepting commands.
	if _, err := client.readResponse("greeting"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gpg-agent greeting: %w", err)
	}
	return client, nil
}

// Close ends the assuan session. The BYE farewell is best-effort; the
// connection is closed regardless.
func (c *Client) Close() error {
	fmt.Fprintf(c.conn, "BYE\n")
	_, _ = c.readResponse("BYE")
	return c.conn.Close()
}

// UpdateStartupTTY points the agent's pinentry at the current
// terminal, so passphrase prompts triggered by later signing requests
// surface where the user is. Terminal and display attributes that
// cannot be determined are skipped rather than reported — a session
// without a tty still gets the UPDATESTARTUPTTY call.
func (c *Client) UpdateStartupTTY() error {
	if _, err := c.roundTrip("RESET"); err != nil {
		return err
	}
	if tty := ttyName(); tty != "" {
		if _, err := c.roundTrip("OPTION ttyname=" + tty); err != nil {
			return err
		}
	}
	if termType := os.Getenv("TERM"); termType != "" {
		if _, err := c.roundTrip("OPTION ttytype=" + termType); err != nil {
			return err
		}
	}
	if display := os.Getenv("DISPLAY"); display != "" {
		if _, err := c.roundTrip("OPTION display=" + display); err != nil {
			return err
		}
	}
	_, err := c.roundTrip("UPDATESTARTUPTTY")
	return err
}

// KeyInfo returns the fingerprints of all keys currently loaded in
// the agent, in the agent's own order. The returned slice is owned by
// the caller.
func (c *Client) KeyInfo() ([]Fingerprint, error) {
	statusLines, err := c.roundTrip("KEYINFO --list")
	if err != nil {
		return nil, err
	}

	var fingerprints []Fingerprint
	for _, line := range statusLines {
		// Status lines look like "KEYINFO <keygrip> D - - 1 P - - -".
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "KEYINFO" {
			continue
		}
		fingerprints = append(fingerprints, Fingerprint(fields[1]))
	}
	return fingerprints, nil
}

// PresetPassphrase injects the passphrase into the agent's cache for
// one fingerprint, without interactive prompting. The cache entry
// does not expire (-1 ttl). The hex-encoded command buffer is zeroed
// after the write.
func (c *Client) PresetPassphrase(fingerprint Fingerprint, passphrase *secret.Buffer) error {
	command := fmt.Sprintf("PRESET_PASSPHRASE %s -1 ", fingerprint)

	line := make([]byte, 0, len(command)+hex.EncodedLen(passphrase.Len())+1)
	line = append(line, command...)
	line = line[:len(line)+hex.EncodedLen(passphrase.Len())]
	hex.Encode(line[len(command):], passphrase.Bytes())
	line = append(line, '\n')

	_, writeErr := c.conn.Write(line)
	secret.Zero(line)
	if writeErr != nil {
		return fmt.Errorf("sending PRESET_PASSPHRASE: %w", writeErr)
	}

	_, err := c.readResponse("PRESET_PASSPHRASE")
	return err
}

// roundTrip sends one command line and collects the response.
func (c *Client) roundTrip(command string) ([]string, error) {
	if _, err := fmt.Fprintf(c.conn, "%s\n", command); err != nil {
		return nil, fmt.Errorf("sending %s: %w", command, err)
	}
	return c.readResponse(command)
}

// readResponse consumes lines until the terminating OK or ERR.
// Status lines are returned with their "S " prefix stripped; comment
// and data lines are skipped; an INQUIRE is answered with END since
// no keymux command supplies inquiry data.
func (c *Client) readResponse(command string) ([]string, error) {
	var statusLines []string
	for {
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", command, err)
		}
		line := strings.TrimRight(raw, "\r\n")

		switch {
		case line == "OK" || strings.HasPrefix(line, "OK "):
			return statusLines, nil
		case strings.HasPrefix(line, "ERR "):
			return nil, parseErr(command, line)
		case strings.HasPrefix(line, "S "):
			statusLines = append(statusLines, line[2:])
		case strings.HasPrefix(line, "#") || strings.HasPrefix(line, "D "):
			// Comments and data lines carry nothing we consume.
		case strings.HasPrefix(line, "INQUIRE"):
			if _, err := fmt.Fprintf(c.conn, "END\n"); err != nil {
				return nil, fmt.Errorf("answering inquiry for %s: %w", command, err)
			}
		default:
			return nil, fmt.Errorf("unexpected %s response line %q", command, line)
		}
	}
}

// parseErr turns an "ERR <code> <description>" line into a
// ProtocolError.
func parseErr(command, line string) error {
	rest := strings.TrimPrefix(line, "ERR ")
	code := 0
	description := rest
	if space := strings.IndexByte(rest, ' '); space > 0 {
		if parsed, err := strconv.Atoi(rest[:space]); err == nil {
			code = parsed
			description = rest[space+1:]
		}
	} else if parsed, err := strconv.Atoi(rest); err == nil {
		code = parsed
		description = ""
	}
	return &ProtocolError{Command: command, Code: code, Description: description}
}

// ttyName resolves the controlling terminal of stdin, or "" when
// stdin has no terminal.
func ttyName() string {
	target, err := os.Readlink("/proc/self/fd/0")
	if err != nil || !strings.HasPrefix(target, "/dev/") {
		return ""
	}
	return target
}
