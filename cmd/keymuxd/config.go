// Copyright 2026 The Keymux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keymux/keymux/lib/ipc"
)

// configEnvVar selects the config file when --config is not passed.
const configEnvVar = "KEYMUXD_CONFIG"

// Config is the daemon configuration. Every field has a workable
// default; a config file only overrides what it mentions.
type Config struct {
	// Socket is the broker listen endpoint. A leading "@" selects the
	// abstract namespace.
	Socket string `yaml:"socket"`

	// DefaultAgent names the agent started when a client requests the
	// default kind: "ssh-agent" or "gpg-agent".
	DefaultAgent string `yaml:"default_agent"`

	// Agents maps an agent name to the command line that starts it.
	// The command must daemonize and print sh-style environment
	// assignments (SSH_AUTH_SOCK, SSH_AGENT_PID, GPG_AGENT_INFO) on
	// stdout, which is what ssh-agent -s and gpg-agent --sh do.
	Agents map[string][]string `yaml:"agents"`
}

// defaultConfig returns the built-in configuration: the well-known
// per-user socket and the stock agent command lines.
func defaultConfig() *Config {
	return &Config{
		Socket:       ipc.BrokerSocketPath(),
		DefaultAgent: ipc.AgentSSH.String(),
		Agents: map[string][]string{
			ipc.AgentSSH.String(): {"ssh-agent", "-s"},
			ipc.AgentGPG.String(): {"gpg-agent", "--daemon", "--sh", "--enable-ssh-support"},
		},
	}
}

// loadConfig reads the YAML config at path (or $KEYMUXD_CONFIG when
// path is empty) over the defaults. With neither set, the defaults
// are used as-is.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(configEnvVar)
	}

	config := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := config.validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Socket == "" {
		return fmt.Errorf("socket must not be empty")
	}
	if _, err := ipc.ParseAgentKind(c.DefaultAgent); err != nil {
		return fmt.Errorf("default_agent: %w", err)
	}
	for name, argv := range c.Agents {
		if _, err := ipc.ParseAgentKind(name); err != nil {
			return fmt.Errorf("agents: %w", err)
		}
		if len(argv) == 0 {
			return fmt.Errorf("agents: empty command for %s", name)
		}
	}
	return nil
}

// agentCommand resolves the command line for a requested kind, with
// AgentDefault mapped through DefaultAgent.
func (c *Config) agentCommand(kind ipc.AgentKind) (ipc.AgentKind, []string, error) {
	if kind == ipc.AgentDefault {
		resolved, err := ipc.ParseAgentKind(c.DefaultAgent)
		if err != nil {
			return kind, nil, err
		}
		kind = resolved
	}

	argv, ok := c.Agents[kind.String()]
	if !ok || len(argv) == 0 {
		return kind, nil, fmt.Errorf("no command configured for %s", kind)
	}
	return kind, argv, nil
}
