package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainsModes(t *testing.T) {
	operator := []string{"internal.example.com", "API.GITHUB.COM", "https://example.org/"}

	strict, err := Domains(ModeStrict, operator)
	require.NoError(t, err)
	assert.Equal(t, len(BuiltinDomains), len(strict))
	assert.NotContains(t, strict, "internal.example.com")

	replace, err := Domains(ModeReplace, operator)
	require.NoError(t, err)
	assert.Equal(t, []string{"internal.example.com", "api.github.com", "example.org"}, replace)

	merge, err := Domains(ModeMerge, operator)
	require.NoError(t, err)
	assert.Contains(t, merge, "internal.example.com")
	assert.Contains(t, merge, "api.anthropic.com")
	assert.Len(t, merge, len(BuiltinDomains)+2, "api.github.com is de-duplicated")

	dflt, err := Domains("", operator)
	require.NoError(t, err)
	assert.Equal(t, merge, dflt)

	_, err = Domains("open", nil)
	assert.Error(t, err)
}

func TestDeniedCommands(t *testing.T) {
	got := DeniedCommands([]string{"main", "release"})
	assert.Equal(t, []string{
		"git checkout main",
		"git push origin main",
		"git push origin HEAD:main",
		"git checkout release",
		"git push origin release",
		"git push origin HEAD:release",
		DestructivePattern,
	}, got)

	assert.Equal(t, []string{DestructivePattern}, DeniedCommands(nil))
}

func TestMatchDenied(t *testing.T) {
	deny := DeniedCommands([]string{"main"})

	tests := []struct {
		line   string
		denied bool
	}{
		{"git push origin main", true},
		{"git   push origin  main --force", true},
		{"git push origin HEAD:main", true},
		{"git push origin main-feature", false},
		{"git push origin feature", false},
		{"git checkout main", true},
		{"git checkout -b topic", false},
		{"rm -rf /", true},
		{"rm -rf /tmp/x", false},
	}
	for _, tt := range tests {
		_, denied := MatchDenied(deny, tt.line)
		assert.Equal(t, tt.denied, denied, tt.line)
	}
}

func TestCompileAndWrite(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	control := filepath.Join(ws, ".airlock")

	p, err := Compile(Options{
		Mode:              ModeMerge,
		AllowedDomains:    []string{"corp.example.com"},
		ProtectedBranches: []string{"main"},
		Workspace:         ws,
		ControlDir:        control,
		TempDir:           "/tmp",
		HostHome:          "/home/op",
		SourceDir:         "/home/op/src/airlock",
		StateDir:          "/home/op/.local/state/airlock",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{ws, "/tmp"}, p.Filesystem.AllowWrite)
	assert.Contains(t, p.Filesystem.DenyRead, "/home/op/.ssh")
	assert.Contains(t, p.Filesystem.DenyRead, "/home/op/src/airlock")
	assert.Contains(t, p.Filesystem.DenyWrite, control)
	assert.Contains(t, p.Filesystem.DenyWrite, "/home/op/.local/state/airlock")

	path := filepath.Join(control, "sandbox-settings.json")
	require.NoError(t, os.MkdirAll(control, 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"stale":true}`), 0644))
	require.NoError(t, p.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string][]string
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc["network"]["allowedDomains"], "corp.example.com")
	assert.Contains(t, doc["command"]["deny"], "git push origin HEAD:main")
	for _, key := range []string{"allowWrite", "allowRead", "denyRead", "denyWrite"} {
		assert.Contains(t, doc["filesystem"], key)
	}
	assert.NotContains(t, string(data), "stale")
}

func TestAllowsHost(t *testing.T) {
	domains := []string{"api.github.com", "*.githubusercontent.com", "https://Example.org/"}
	tests := []struct {
		host string
		want bool
	}{
		{"api.github.com", true},
		{"API.GitHub.com:443", true},
		{"github.com", false},
		{"raw.githubusercontent.com", true},
		{"githubusercontent.com", false},
		{"example.org", true},
		{"evil-example.org", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := AllowsHost(domains, tt.host); got != tt.want {
			t.Errorf("AllowsHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
