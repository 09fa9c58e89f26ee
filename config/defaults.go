package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/grovetools/airlock/pkg/paths"
)

const (
	DefaultBinary        = "opencode"
	DefaultMode          = "build"
	DefaultExecutor      = "srt"
	DefaultSessionPrefix = "ses_"
	DefaultCredentialEnv = "GH_TOKEN"
	DefaultSocketMode    = 0o666
	DefaultHeartbeat     = 20 * time.Second

	ParseModeLines  = "lines"
	ParseModeBraces = "braces"

	NetworkModeMerge   = "merge"
	NetworkModeReplace = "replace"
	NetworkModeStrict  = "strict"
)

var (
	// DefaultAllowedCommands are the source-control and issue-tracker CLIs the bridge brokers.
	DefaultAllowedCommands = []string{"git", "gh"}

	// DefaultProtectedBranches are guarded unless the operator lists their own.
	DefaultProtectedBranches = []string{"main", "master"}

	// DefaultPassthrough is the fixed set of host variables that reach the agent.
	DefaultPassthrough = []string{
		"PATH", "HOME", "USER", "LANG",
		"GH_TOKEN",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY",
	}

	// DefaultSyncExclude keeps credential material out of workspace config copies.
	DefaultSyncExclude = []string{
		"auth.json",
		"**/auth.json",
		"*.key",
		"*.pem",
		"**/*token*",
		"**/*secret*",
		".env",
		"**/.env",
	}

	DefaultPortRange = []int{20000, 40000}
)

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Agent.Binary == "" {
		c.Agent.Binary = DefaultBinary
	}
	if c.Agent.DefaultMode == "" {
		c.Agent.DefaultMode = DefaultMode
	}
	if c.Agent.ParseMode == "" {
		c.Agent.ParseMode = ParseModeLines
	}
	if c.Agent.HeartbeatThreshold == "" {
		c.Agent.HeartbeatThreshold = DefaultHeartbeat.String()
	}
	if c.Agent.SessionPrefix == "" {
		c.Agent.SessionPrefix = DefaultSessionPrefix
	}

	if c.Sandbox.Executor == "" {
		c.Sandbox.Executor = DefaultExecutor
	}

	if c.Network.Mode == "" {
		c.Network.Mode = NetworkModeMerge
	}
	if len(c.Network.ProtectedBranches) == 0 {
		c.Network.ProtectedBranches = append([]string(nil), DefaultProtectedBranches...)
	}

	if len(c.Bridge.AllowedCommands) == 0 {
		c.Bridge.AllowedCommands = append([]string(nil), DefaultAllowedCommands...)
	}
	if c.Bridge.CredentialEnv == "" {
		c.Bridge.CredentialEnv = DefaultCredentialEnv
	}
	if c.Bridge.SocketMode == 0 {
		c.Bridge.SocketMode = DefaultSocketMode
	}

	if c.Workspace.Root == "" {
		c.Workspace.Root = paths.WorkspacesDir()
	}
	c.Workspace.Root = expandPath(c.Workspace.Root)
	if c.Workspace.HostConfigDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Workspace.HostConfigDir = filepath.Join(home, ".config", DefaultBinary)
		}
	}
	c.Workspace.HostConfigDir = expandPath(c.Workspace.HostConfigDir)
	if len(c.Workspace.SyncExclude) == 0 {
		c.Workspace.SyncExclude = append([]string(nil), DefaultSyncExclude...)
	}
	if len(c.Workspace.PortRange) == 0 {
		c.Workspace.PortRange = append([]int(nil), DefaultPortRange...)
	}

	if c.State.Path == "" {
		c.State.Path = paths.RegistryPath()
	}
	c.State.Path = expandPath(c.State.Path)

	if len(c.Env.Passthrough) == 0 {
		c.Env.Passthrough = append([]string(nil), DefaultPassthrough...)
	}

	if c.Server.Socket == "" {
		c.Server.Socket = paths.SocketPath()
	}
	c.Server.Socket = expandPath(c.Server.Socket)
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// expandPath expands a leading tilde.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
