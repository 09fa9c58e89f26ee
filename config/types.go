package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the root of airlock.yml / airlock.toml.
type Config struct {
	Version   string          `yaml:"version,omitempty" toml:"version,omitempty" jsonschema:"description=Configuration version (e.g. '1.0')"`
	Agent     AgentConfig     `yaml:"agent,omitempty" toml:"agent,omitempty" jsonschema:"description=Agent executable invocation"`
	Sandbox   SandboxConfig   `yaml:"sandbox,omitempty" toml:"sandbox,omitempty" jsonschema:"description=External sandbox executor wrapping"`
	Network   NetworkConfig   `yaml:"network,omitempty" toml:"network,omitempty" jsonschema:"description=Outbound domain and command policy"`
	Bridge    BridgeConfig    `yaml:"bridge,omitempty" toml:"bridge,omitempty" jsonschema:"description=Secure host bridge"`
	Workspace WorkspaceConfig `yaml:"workspace,omitempty" toml:"workspace,omitempty" jsonschema:"description=Per-session workspace provisioning"`
	State     StateConfig     `yaml:"state,omitempty" toml:"state,omitempty" jsonschema:"description=Session registry persistence"`
	Env       EnvConfig       `yaml:"env,omitempty" toml:"env,omitempty" jsonschema:"description=Environment passed to the agent"`
	Providers []ProviderConfig `yaml:"providers,omitempty" toml:"providers,omitempty" jsonschema:"description=Overrides for the built-in model provider table"`
	Server    ServerConfig    `yaml:"server,omitempty" toml:"server,omitempty" jsonschema:"description=Daemon API settings"`

	// Extensions captures all other top-level keys (e.g. logging).
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

// AgentConfig describes how the agent executable is invoked.
type AgentConfig struct {
	Binary             string `yaml:"binary,omitempty" toml:"binary,omitempty" jsonschema:"description=Agent executable name or path,default=opencode"`
	DefaultMode        string `yaml:"default_mode,omitempty" toml:"default_mode,omitempty" jsonschema:"description=Behavioral profile passed as --agent,default=build"`
	ParseMode          string `yaml:"parse_mode,omitempty" toml:"parse_mode,omitempty" jsonschema:"description=Event stream framing,enum=lines,enum=braces"`
	HeartbeatThreshold string `yaml:"heartbeat_threshold,omitempty" toml:"heartbeat_threshold,omitempty" jsonschema:"description=Inactivity before a heartbeat signal fires (Go duration),default=20s"`
	SessionPrefix      string `yaml:"session_prefix,omitempty" toml:"session_prefix,omitempty" jsonschema:"description=Prefix carried by agent session identifiers,default=ses_"`
}

// SandboxConfig configures the external isolation executor.
type SandboxConfig struct {
	Enabled   bool     `yaml:"enabled,omitempty" toml:"enabled,omitempty" jsonschema:"description=Wrap the agent in the sandbox executor"`
	Executor  string   `yaml:"executor,omitempty" toml:"executor,omitempty" jsonschema:"description=Sandbox executor binary,default=srt"`
	DenyRead  []string `yaml:"deny_read,omitempty" toml:"deny_read,omitempty" jsonschema:"description=Additional host paths the agent may not read"`
	SourceDir string   `yaml:"source_dir,omitempty" toml:"source_dir,omitempty" jsonschema:"description=Operator source tree hidden from the agent"`
}

// NetworkConfig selects the outbound domain policy.
type NetworkConfig struct {
	Mode              string   `yaml:"mode,omitempty" toml:"mode,omitempty" jsonschema:"description=How operator domains combine with the built-in list,enum=merge,enum=replace,enum=strict"`
	AllowedDomains    []string `yaml:"allowed_domains,omitempty" toml:"allowed_domains,omitempty" jsonschema:"description=Operator-supplied outbound domains"`
	ProtectedBranches []string `yaml:"protected_branches,omitempty" toml:"protected_branches,omitempty" jsonschema:"description=Branches the agent may not check out or push to"`
}

// BridgeConfig configures the secure host bridge.
type BridgeConfig struct {
	AllowedCommands []string `yaml:"allowed_commands,omitempty" toml:"allowed_commands,omitempty" jsonschema:"description=Host commands the bridge will run"`
	CredentialEnv   string   `yaml:"credential_env,omitempty" toml:"credential_env,omitempty" jsonschema:"description=Environment variable carrying the injected credential,default=GH_TOKEN"`
	Credential      string   `yaml:"credential,omitempty" toml:"credential,omitempty" jsonschema:"description=Session-scoped credential injected into brokered commands"`
	SocketMode      uint32   `yaml:"socket_mode,omitempty" toml:"socket_mode,omitempty" jsonschema:"description=Permission bits for workspace sockets"`
}

// WorkspaceConfig configures workspace provisioning.
type WorkspaceConfig struct {
	Root          string   `yaml:"root,omitempty" toml:"root,omitempty" jsonschema:"description=Directory holding one folder per session workspace"`
	HostConfigDir string   `yaml:"host_config_dir,omitempty" toml:"host_config_dir,omitempty" jsonschema:"description=Host agent configuration copied into each workspace"`
	SyncExclude   []string `yaml:"sync_exclude,omitempty" toml:"sync_exclude,omitempty" jsonschema:"description=Patterns never copied from the host configuration"`
	PortRange     []int    `yaml:"port_range,omitempty" toml:"port_range,omitempty" jsonschema:"description=Half-open range for per-session relay ports,minItems=2,maxItems=2"`
}

// StateConfig locates the registry file.
type StateConfig struct {
	Path string `yaml:"path,omitempty" toml:"path,omitempty" jsonschema:"description=Registry persistence file"`
}

// EnvConfig lists the host variables that may reach the agent.
type EnvConfig struct {
	Passthrough []string `yaml:"passthrough,omitempty" toml:"passthrough,omitempty" jsonschema:"description=Host environment variables passed to the agent"`
}

// ProviderConfig overrides one entry of the provider table.
type ProviderConfig struct {
	Name         string `yaml:"name" toml:"name" jsonschema:"description=Route prefix (e.g. anthropic)"`
	Target       string `yaml:"target,omitempty" toml:"target,omitempty" jsonschema:"description=Real upstream base URL"`
	KeyEnv       string `yaml:"key_env,omitempty" toml:"key_env,omitempty" jsonschema:"description=Host variable holding the real key"`
	Header       string `yaml:"header,omitempty" toml:"header,omitempty" jsonschema:"description=Header carrying the key"`
	HeaderFormat string `yaml:"header_format,omitempty" toml:"header_format,omitempty" jsonschema:"description=fmt template for the header value"`
	BaseURLEnv   string `yaml:"base_url_env,omitempty" toml:"base_url_env,omitempty" jsonschema:"description=Variable the agent reads for the base URL"`
}

// ServerConfig configures the daemon API.
type ServerConfig struct {
	Socket string `yaml:"socket,omitempty" toml:"socket,omitempty" jsonschema:"description=Unix socket for the daemon API"`
}

// Heartbeat returns the parsed heartbeat threshold.
func (a AgentConfig) Heartbeat() time.Duration {
	d, err := time.ParseDuration(a.HeartbeatThreshold)
	if err != nil || d <= 0 {
		return DefaultHeartbeat
	}
	return d
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded file into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// A missing key leaves the target zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
