package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/bridge"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/registry"
	"github.com/grovetools/airlock/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPrompt(t *testing.T) {
	prompt, err := readPrompt([]string{"fix", "the", "tests"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "fix the tests", prompt)

	prompt, err = readPrompt([]string{"-"}, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", prompt)

	_, err = readPrompt(nil, strings.NewReader("   "))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestTurnExit(t *testing.T) {
	assert.NoError(t, turnExit(nil))
	assert.NoError(t, turnExit(&agent.Result{Completed: true}))
	assert.NoError(t, turnExit(&agent.Result{Stopped: true, ExitCode: -1}))

	err := turnExit(&agent.Result{ExitCode: 3, StderrTail: []string{"boom"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeAbnormalExit))
	assert.Equal(t, 3, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(errors.SandboxViolation("curl evil.example")); got != 1 {
		t.Errorf("violation exit = %d, want 1", got)
	}
	if got := ExitCode(errors.AbnormalExit(-1, nil)); got != 1 {
		t.Errorf("killed agent exit = %d, want 1", got)
	}
}

func TestSignalPrinter(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var out, status bytes.Buffer
	print := signalPrinter(&out, &status)

	print(agent.Signal{Type: agent.SignalOutput, Text: "hello "})
	print(agent.Signal{Type: agent.SignalToolUse, Tool: "bash", ToolStatus: "running"})
	print(agent.Signal{Type: agent.SignalOutput, Text: "world"})
	print(agent.Signal{Type: agent.SignalViolation, Message: "connect api.evil.example"})
	print(agent.Signal{Type: agent.SignalExit})

	assert.Equal(t, "hello world\n", out.String())
	assert.Contains(t, status.String(), "bash (running)")
	assert.Contains(t, status.String(), "connect api.evil.example")
}

func TestSessionRows(t *testing.T) {
	rows := sessionRows([]daemon.SessionInfo{
		{ChannelInfo: registry.ChannelInfo{Channel: "general", SessionID: "ses_1", Alias: "otter", Turns: 2, Workspace: "general"}, InFlight: true},
		{ChannelInfo: registry.ChannelInfo{Channel: "ops", Binding: "infra"}},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"general", "ses_1", "otter", "-", "2", "general", "running"}, rows[0])
	assert.Equal(t, []string{"ops", "-", "-", "-", "0", "infra", "idle"}, rows[1])
}

func TestShimForwardsToBridge(t *testing.T) {
	testutil.RequireSh(t)
	socket := testutil.SocketPath(t, "bridge.sock")
	srv := bridge.NewServer(bridge.Options{
		SocketPath:      socket,
		AllowedCommands: []string{"echo"},
	})
	require.NoError(t, srv.Listen(context.Background()))
	defer srv.Close()

	env := map[string]string{"BRIDGE_SOCK": socket, "SHIM_COMMAND": "echo"}
	var stdout, stderr bytes.Buffer
	code := runShim(context.Background(), []string{"hello", "bridge"}, func(k string) string { return env[k] }, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t, "hello bridge\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestShimReportsUnreachableBridge(t *testing.T) {
	env := map[string]string{"BRIDGE_SOCK": testutil.SocketPath(t, "missing.sock")}
	var stdout, stderr bytes.Buffer
	code := runShim(context.Background(), []string{"pr", "list"}, func(k string) string { return env[k] }, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stderr.String(), "[Shim Error] "), stderr.String())
}

// isolate points config discovery and XDG paths at a temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AIRLOCK_HOME", dir)
	t.Setenv("AIRLOCK_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("NO_COLOR", "1")
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPolicyRenderCommand(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "policy", "render", "--mode", "strict", "--workspace", dir)
	require.NoError(t, err)

	var rendered map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rendered))
	assert.Contains(t, rendered, "network")
	assert.Contains(t, rendered, "filesystem")
}

func TestPolicyRenderRejectsUnknownMode(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "policy", "render", "--mode", "sideways", "--workspace", dir)
	assert.Error(t, err)
}

func TestConfigSchemaCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"agent"`)
	assert.Contains(t, out, `"network"`)
}

func TestSessionCommandsRunLocally(t *testing.T) {
	isolate(t)

	out, err := execute(t, "session", "bind", "general", "My Project")
	require.NoError(t, err)
	assert.Contains(t, out, "MyProject")

	out, err = execute(t, "--json", "session", "list")
	require.NoError(t, err)
	var sessions []daemon.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "MyProject", sessions[0].Binding)

	out, err = execute(t, "session", "resolve", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ses_abc\n", out)
}
