package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/grovetools/airlock/errors"
)

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	switch c.Agent.ParseMode {
	case ParseModeLines, ParseModeBraces:
	default:
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("agent.parse_mode must be '%s' or '%s', got '%s'", ParseModeLines, ParseModeBraces, c.Agent.ParseMode))
	}

	if d, err := time.ParseDuration(c.Agent.HeartbeatThreshold); err != nil || d <= 0 {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("agent.heartbeat_threshold must be a positive duration, got '%s'", c.Agent.HeartbeatThreshold))
	}

	if strings.TrimSpace(c.Agent.SessionPrefix) == "" {
		return errors.New(errors.ErrCodeConfigValidation, "agent.session_prefix cannot be empty")
	}

	switch c.Network.Mode {
	case NetworkModeMerge, NetworkModeReplace, NetworkModeStrict:
	default:
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("network.mode must be merge, replace or strict, got '%s'", c.Network.Mode))
	}

	for _, branch := range c.Network.ProtectedBranches {
		if branch == "" || strings.ContainsAny(branch, " \t\n") {
			return errors.New(errors.ErrCodeConfigValidation,
				fmt.Sprintf("invalid protected branch name %q", branch))
		}
	}

	for _, cmd := range c.Bridge.AllowedCommands {
		if err := validateCommandName(cmd); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid bridge.allowed_commands entry").
				WithDetail("command", cmd)
		}
	}

	if len(c.Workspace.PortRange) != 2 {
		return errors.New(errors.ErrCodeConfigValidation, "workspace.port_range must have exactly two values")
	}
	lo, hi := c.Workspace.PortRange[0], c.Workspace.PortRange[1]
	if lo < 1024 || hi > 65535 || lo >= hi {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("workspace.port_range [%d, %d) must satisfy 1024 <= lo < hi <= 65535", lo, hi))
	}

	names := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" || strings.ContainsAny(p.Name, "/ ") {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("invalid provider name %q", p.Name))
		}
		if names[p.Name] {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("duplicate provider '%s'", p.Name))
		}
		names[p.Name] = true
	}

	return nil
}

// validateCommandName only accepts bare executable names.
func validateCommandName(name string) error {
	if name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\ \t") {
		return fmt.Errorf("command name must be a bare executable name: %q", name)
	}
	return nil
}
