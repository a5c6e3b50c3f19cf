// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/keymux/keymux/lib/broker"
	"github.com/keymux/keymux/lib/gpg"
	"github.com/keymux/keymux/lib/ipc"
	"github.com/keymux/keymux/lib/secret"
	"github.com/keymux/keymux/lib/shellenv"
	"github.com/keymux/keymux/lib/sshadd"
	"github.com/keymux/keymux/lib/version"
)

// promptSentinel is the NoOptDefVal for --unlock: argv strings cannot
// contain NUL, so a bare -u (prompt for the password) can never
// collide with an inline password.
const promptSentinel = "\x00prompt"

// action is the single verb selected by the flag surface. The default
// action sources the environment and auto-adds keys on a fresh agent.
type action int

const (
	actionNone action = iota
	actionPrintSh
	actionPrintFish
	actionAdd
	actionClear
	actionKill
	actionList
	actionUnlock
)

// invocation is the parsed command line: one verb, the requested
// agent kind, and the verb's arguments.
type invocation struct {
	verb        action
	kind        ipc.AgentKind
	keys        []string
	password    string
	showVersion bool
}

// exitError carries a non-zero exit code for outcomes that already
// printed their own diagnostic.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "keymux: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	inv, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if inv.showVersion {
		fmt.Printf("keymux %s\n", version.Info())
		return nil
	}

	client := &broker.Client{}
	delegate := &sshadd.Delegate{}
	d := &dispatcher{
		request:  client.RequestSession,
		apply:    shellenv.Apply,
		addKeys:  delegate.AddKeys,
		listKeys: delegate.ListKeys,
		signal:   unix.Kill,
		unlock:   runUnlock,
		stdout:   os.Stdout,
	}
	return d.run(inv)
}

// parseArgs maps argv to an invocation, rejecting conflicting verbs.
func parseArgs(argv []string) (*invocation, error) {
	flags := pflag.NewFlagSet("keymux", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: keymux [options] [key ...]\n\nOptions:\n%s", flags.FlagUsages())
	}

	var (
		printSh     = flags.BoolP("print", "p", false, "print sh environment exports")
		printFish   = flags.BoolP("fish", "f", false, "print fish environment exports")
		addKeys     = flags.BoolP("add", "a", false, "add private key identities")
		clearCache  = flags.BoolP("clear", "k", false, "force cached identities to expire (gpg-agent only)")
		killAgent   = flags.BoolP("kill", "K", false, "kill the running agent")
		listKeys    = flags.BoolP("list", "l", false, "list fingerprints of all loaded identities")
		unlockWith  = flags.StringP("unlock", "u", "", "unlock the agent's keyring (gpg-agent only), prompting unless PASS is given")
		agentName   = flags.StringP("agent", "t", "", "agent to prefer (ssh-agent or gpg-agent)")
		showVersion = flags.BoolP("version", "v", false, "print version and exit")
	)
	flags.Lookup("unlock").NoOptDefVal = promptSentinel

	if err := flags.Parse(argv); err != nil {
		return nil, err
	}

	inv := &invocation{
		verb:        actionNone,
		kind:        ipc.AgentDefault,
		keys:        flags.Args(),
		password:    *unlockWith,
		showVersion: *showVersion,
	}

	for _, candidate := range []struct {
		set  bool
		verb action
	}{
		{*printSh, actionPrintSh},
		{*printFish, actionPrintFish},
		{*addKeys, actionAdd},
		{*clearCache, actionClear},
		{*killAgent, actionKill},
		{*listKeys, actionList},
		{flags.Changed("unlock"), actionUnlock},
	} {
		if !candidate.set {
			continue
		}
		if inv.verb != actionNone {
			return nil, fmt.Errorf("conflicting actions (pick one of -p, -f, -a, -k, -K, -l, -u)")
		}
		inv.verb = candidate.verb
	}

	if *agentName != "" {
		parsed, err := ipc.ParseAgentKind(*agentName)
		if err != nil {
			return nil, err
		}
		inv.kind = parsed
	}
	return inv, nil
}

// dispatcher runs one parsed invocation against its collaborators:
// the broker client, the environment projector, the ssh-add delegate,
// the signal sender, and the unlock flow. Injectable so the dispatch
// policy is testable without a daemon or agents.
type dispatcher struct {
	request  func(ctx context.Context, kind ipc.AgentKind, start bool) (*ipc.SessionDescriptor, error)
	apply    func(descriptor *ipc.SessionDescriptor) error
	addKeys  func(keys []string) error
	listKeys func() error
	signal   func(pid int, signum unix.Signal) error
	unlock   func(descriptor *ipc.SessionDescriptor, password string) error
	stdout   io.Writer
}

func (d *dispatcher) run(inv *invocation) error {
	// Clearing and killing act on an existing session only; every
	// other invocation sources the environment and may start an agent.
	source := inv.verb != actionClear && inv.verb != actionKill

	descriptor, err := d.request(context.Background(), inv.kind, source)
	if err != nil {
		return err
	}

	// No session and none requested: a clean no-op. Nothing is
	// sourced, printed, or delegated.
	if descriptor.Status == ipc.StatusStopped {
		return nil
	}

	if source {
		if err := d.apply(descriptor); err != nil {
			return err
		}
	}

	switch inv.verb {
	case actionPrintSh:
		return shellenv.WriteExports(d.stdout, descriptor, shellenv.DialectSh)

	case actionPrintFish:
		return shellenv.WriteExports(d.stdout, descriptor, shellenv.DialectFish)

	case actionNone:
		// A freshly started ssh-agent has no identities yet; load the
		// default (or named) keys so the first use works. A gpg-agent
		// manages its own keyring and an already-running agent keeps
		// whatever it has.
		if descriptor.Status != ipc.StatusFirstRun || descriptor.Kind == ipc.AgentGPG {
			return nil
		}
		return d.addKeys(inv.keys)

	case actionAdd:
		return d.addKeys(inv.keys)

	case actionClear:
		if descriptor.Kind != ipc.AgentGPG {
			return fmt.Errorf("only gpg-agent supports this operation")
		}
		if err := d.signal(descriptor.PID, unix.SIGHUP); err != nil {
			return fmt.Errorf("clearing agent %d: %w", descriptor.PID, err)
		}
		return nil

	case actionKill:
		if err := d.signal(descriptor.PID, unix.SIGTERM); err != nil {
			return fmt.Errorf("killing agent %d: %w", descriptor.PID, err)
		}
		return nil

	case actionList:
		return d.listKeys()

	case actionUnlock:
		return d.unlock(descriptor, inv.password)
	}
	return nil
}

// runUnlock presets the keyring passphrase for every key loaded in
// the session's gpg-agent. A rejected fingerprint is reported and the
// invocation exits 1.
func runUnlock(descriptor *ipc.SessionDescriptor, password string) error {
	if descriptor.Kind != ipc.AgentGPG {
		return fmt.Errorf("only gpg-agent supports this operation")
	}

	var passphrase *secret.Buffer
	if password != promptSentinel && password != "" {
		buffer, err := secret.NewFromBytes([]byte(password))
		if err != nil {
			return err
		}
		defer buffer.Close()
		passphrase = buffer
	}

	prompt := func() (*secret.Buffer, error) {
		return secret.PromptPassword("Password: ")
	}
	if err := gpg.Unlock(descriptor.ControlPath, passphrase, prompt); err != nil {
		var unlockError *gpg.UnlockError
		if errors.As(err, &unlockError) {
			fmt.Fprintf(os.Stderr, "keymux: %v\n", unlockError)
			return &exitError{code: 1}
		}
		return err
	}
	return nil
}
