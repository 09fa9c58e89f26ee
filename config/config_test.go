package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grovetools/airlock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtensions verifies that unknown top-level sections are kept for UnmarshalExtension
func TestExtensions(t *testing.T) {
	yamlContent := []byte(`
version: "1.0"
agent:
  binary: opencode

logging:
  level: debug
  report_caller: true

monitoring:
  enabled: true
  interval: 30
`)

	cfg, err := LoadFromBytes(yamlContent)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	type LogConfig struct {
		Level        string `yaml:"level"`
		ReportCaller bool   `yaml:"report_caller"`
	}
	var logCfg LogConfig
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		t.Fatalf("Failed to unmarshal logging extension: %v", err)
	}
	if logCfg.Level != "debug" || !logCfg.ReportCaller {
		t.Errorf("unexpected logging extension: %+v", logCfg)
	}

	type MonitoringConfig struct {
		Enabled  bool `yaml:"enabled"`
		Interval int  `yaml:"interval"`
	}
	var monCfg MonitoringConfig
	if err := cfg.UnmarshalExtension("monitoring", &monCfg); err != nil {
		t.Fatalf("Failed to unmarshal monitoring extension: %v", err)
	}
	if monCfg.Interval != 30 {
		t.Errorf("Expected interval to be 30, got %d", monCfg.Interval)
	}

	var unknown struct {
		SomeField string `yaml:"some_field"`
	}
	if err := cfg.UnmarshalExtension("unknown", &unknown); err != nil {
		t.Fatalf("UnmarshalExtension should not error for non-existent keys: %v", err)
	}

	if _, ok := cfg.Extensions["agent"]; ok {
		t.Error("known sections must not leak into Extensions")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, DefaultBinary, cfg.Agent.Binary)
	assert.Equal(t, ParseModeLines, cfg.Agent.ParseMode)
	assert.Equal(t, DefaultHeartbeat, cfg.Agent.Heartbeat())
	assert.Equal(t, "ses_", cfg.Agent.SessionPrefix)
	assert.Equal(t, NetworkModeMerge, cfg.Network.Mode)
	assert.Equal(t, []string{"main", "master"}, cfg.Network.ProtectedBranches)
	assert.Equal(t, []string{"git", "gh"}, cfg.Bridge.AllowedCommands)
	assert.Equal(t, "GH_TOKEN", cfg.Bridge.CredentialEnv)
	assert.Equal(t, uint32(0o666), cfg.Bridge.SocketMode)
	assert.Equal(t, []int{20000, 40000}, cfg.Workspace.PortRange)
	assert.Contains(t, cfg.Env.Passthrough, "PATH")
	assert.NotEmpty(t, cfg.State.Path)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("AIRLOCK_TEST_TOKEN", "scoped-token")

	cfg, err := LoadFromBytes([]byte(`
bridge:
  credential: ${AIRLOCK_TEST_TOKEN}
agent:
  binary: ${AIRLOCK_TEST_MISSING:-/opt/bin/opencode}
`))
	require.NoError(t, err)
	assert.Equal(t, "scoped-token", cfg.Bridge.Credential)
	assert.Equal(t, "/opt/bin/opencode", cfg.Agent.Binary)
}

func TestSchemaRejectsBadMode(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
network:
  mode: wide-open
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"parse mode", "agent:\n  parse_mode: xml\n"},
		{"heartbeat", "agent:\n  heartbeat_threshold: soon\n"},
		{"bridge command path", "bridge:\n  allowed_commands: [/usr/bin/git]\n"},
		{"port range order", "workspace:\n  port_range: [40000, 20000]\n"},
		{"branch whitespace", "network:\n  protected_branches: [\"release branch\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation), "got %v", err)
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "airlock.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = "1.0"

[network]
mode = "strict"
protected_branches = ["trunk"]

[logging]
level = "warn"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, NetworkModeStrict, cfg.Network.Mode)
	assert.Equal(t, []string{"trunk"}, cfg.Network.ProtectedBranches)

	var logCfg struct {
		Level string `yaml:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "warn", logCfg.Level)
}

func TestFindConfigFileWalksUp(t *testing.T) {
	t.Setenv("AIRLOCK_HOME", t.TempDir())
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "airlock.yml"), []byte("version: \"1.0\"\n"), 0644))

	path, err := FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "airlock.yml"), path)
}

func TestLoadFromWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("AIRLOCK_HOME", t.TempDir())
	t.Setenv("AIRLOCK_CONFIG", "")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultBinary, cfg.Agent.Binary)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "protected_branches")
	assert.Contains(t, string(data), "heartbeat_threshold")
	assert.NotContains(t, string(data), "Extensions")
}
