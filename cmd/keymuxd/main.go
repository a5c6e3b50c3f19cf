// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/keymux/keymux/lib/ipc"
	"github.com/keymux/keymux/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)

	flags := pflag.NewFlagSet("keymuxd", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", os.Getenv(configEnvVar), "path to YAML configuration file")
	flags.StringVarP(&socketPath, "socket", "s", "", "listening socket path (overrides configuration)")
	flags.BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("keymuxd %s\n", version.Info())
		return nil
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if socketPath != "" {
		config.Socket = socketPath
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := listenSocket(config.Socket)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Socket, err)
	}

	broker := newBroker(config, logger)
	logger.Info("keymuxd listening", "socket", config.Socket, "uid", os.Getuid())

	go broker.serve(ctx, listener)

	<-ctx.Done()
	logger.Info("shutting down")

	listener.Close()
	broker.shutdownAgents()
	if !ipc.Abstract(config.Socket) {
		os.Remove(config.Socket)
	}
	return nil
}

// listenSocket creates the broker's unix socket listener, removing any
// stale socket file from a previous run. Abstract-namespace sockets
// ("@"-prefixed) have no filesystem presence, so directory setup and
// permissions only apply to path-based sockets.
func listenSocket(socketPath string) (net.Listener, error) {
	if ipc.Abstract(socketPath) {
		return net.Listen("unix", socketPath)
	}

	socketDir := filepath.Dir(socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", socketDir, err)
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	// A root daemon authorizes per-request via SO_PEERCRED, so the
	// socket itself must be reachable by every user. A per-user daemon
	// lives under the user's own runtime directory.
	mode := os.FileMode(0600)
	if os.Getuid() == 0 {
		mode = 0666
	}
	if err := os.Chmod(socketPath, mode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return listener, nil
}
