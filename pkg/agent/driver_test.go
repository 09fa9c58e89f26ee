package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/process"
	"github.com/grovetools/airlock/testutil"
	"github.com/grovetools/airlock/util/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	signals []Signal
	spawned chan struct{}
}

func newCollector() *collector {
	return &collector{spawned: make(chan struct{}, 1)}
}

func (c *collector) on(s Signal) {
	c.mu.Lock()
	c.signals = append(c.signals, s)
	c.mu.Unlock()
	if s.Type == SignalSpawned {
		select {
		case c.spawned <- struct{}{}:
		default:
		}
	}
}

func (c *collector) types() []SignalType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SignalType, 0, len(c.signals))
	for _, s := range c.signals {
		out = append(out, s.Type)
	}
	return out
}

func (c *collector) find(typ SignalType) (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.signals {
		if s.Type == typ {
			return s, true
		}
	}
	return Signal{}, false
}

func indexOf(types []SignalType, typ SignalType) int {
	for i, t := range types {
		if t == typ {
			return i
		}
	}
	return -1
}

func TestDriverTurn(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.FakeAgent(t, dir, []string{
		"booting agent",
		`{"type":"step_start","sessionID":"ses_abc"}`,
		`{"type":"text","part":{"type":"text","text":"hello "}}`,
		`{"type":"tool_use","part":{"tool":"bash","state":{"status":"completed"}}}`,
		`{"type":"text","text":"world"}`,
		`{"type":"step_finish","part":{"reason":"stop"}}`,
	}, nil, 0)

	c := newCollector()
	d := New(Options{Binary: bin, Mode: "build", Dir: dir, OnSignal: c.on})

	res, err := d.Run(context.Background(), "say hi")
	require.NoError(t, err)

	assert.Equal(t, []SignalType{
		SignalSpawned, SignalSessionID, SignalThinking, SignalOutput,
		SignalToolUse, SignalOutput, SignalIdle, SignalComplete, SignalExit,
	}, c.types())
	assert.Equal(t, "hello world", res.Output)
	assert.True(t, res.Completed)
	assert.Equal(t, "ses_abc", res.SessionID)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, StateIdle, d.State())

	tool, _ := c.find(SignalToolUse)
	assert.Equal(t, "bash", tool.Tool)
	for _, s := range c.signals {
		assert.Equal(t, res.TurnID, s.TurnID)
	}

	// The next turn resumes the harvested identifier.
	_, err = d.Run(context.Background(), "again")
	require.NoError(t, err)

	calls := testutil.ReadArgsLog(t, dir)
	require.Len(t, calls, 2)
	assert.Equal(t, "run --format json --agent build -- say hi", calls[0])
	assert.Equal(t, "run --format json --session ses_abc --agent build -- again", calls[1])
}

func TestDriverBraceMode(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "agent",
		`printf '%s' '{"type":"text","part":{"type":"text","text":"if (x) { return 1; }"}}{"type":"step_finish","reason":"stop"}'`)

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, ParseMode: "braces", OnSignal: c.on})

	res, err := d.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "if (x) { return 1; }", res.Output)
	assert.True(t, res.Completed)
}

func TestDriverSpawnFailure(t *testing.T) {
	c := newCollector()
	d := New(Options{Binary: "/nonexistent/airlock-agent", Dir: t.TempDir(), OnSignal: c.on})

	_, err := d.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSpawnFailed, errors.GetCode(err))
	assert.Equal(t, []SignalType{SignalError}, c.types())
	assert.Equal(t, StateError, d.State())
}

func TestDriverViolationKill(t *testing.T) {
	dir := t.TempDir()
	// Stands in for the sandbox executor; ignores its arguments.
	executor := testutil.WriteScript(t, dir, "sandbox", `
echo '{"type":"step_start"}'
echo 'cat: /root/.ssh/id_rsa: Permission denied' >&2
sleep 2
echo '{"type":"text","text":"should never arrive"}'
`)

	c := newCollector()
	d := New(Options{
		Binary:          "agent",
		Dir:             dir,
		Sandbox:         true,
		SandboxExecutor: executor,
		PolicyFile:      "policy.json",
		OnSignal:        c.on,
	})

	start := time.Now()
	res, err := d.Run(context.Background(), "read secrets")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "child should be killed, not waited for")

	assert.Equal(t, errors.ErrCodeSandboxViolation, errors.GetCode(err))
	assert.Empty(t, res.Output)

	types := c.types()
	vi := indexOf(types, SignalViolation)
	require.GreaterOrEqual(t, vi, 0)
	assert.Equal(t, SignalExit, types[len(types)-1])
	assert.Less(t, vi, len(types)-1)
	assert.Equal(t, -1, indexOf(types, SignalOutput))

	v, _ := c.find(SignalViolation)
	assert.Contains(t, v.Message, "Permission denied")
	assert.Equal(t, StateError, d.State())
}

func TestDriverViolationIgnoredWithoutSandbox(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.FakeAgent(t, dir, nil, []string{"ls: Permission denied"}, 0)

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, OnSignal: c.on})

	_, err := d.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, -1, indexOf(c.types(), SignalViolation))
}

func TestDriverAbnormalExit(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.FakeAgent(t, dir, nil, []string{"first", "boom"}, 3)

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, OnSignal: c.on})

	res, err := d.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, []string{"first", "boom"}, res.StderrTail)

	w, ok := c.find(SignalWarning)
	require.True(t, ok)
	assert.Contains(t, w.StderrTail, "boom")
	assert.Equal(t, SignalExit, c.types()[len(c.types())-1])
}

func TestDriverStderrTailBounded(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("x", i+1))
	}
	bin := testutil.FakeAgent(t, dir, nil, lines, 1)

	res, err := New(Options{Binary: bin, Dir: dir}).Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.StderrTail, stderrTailLines)
	assert.Equal(t, lines[len(lines)-1], res.StderrTail[stderrTailLines-1])
}

func TestDriverHeartbeat(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "agent", "sleep 0.4")

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, Heartbeat: 50 * time.Millisecond, OnSignal: c.on})

	res, err := d.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode, "heartbeat must not kill the turn")

	hb, ok := c.find(SignalHeartbeat)
	require.True(t, ok)
	assert.GreaterOrEqual(t, hb.Idle, 50*time.Millisecond)
}

func TestDriverStop(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "agent", "sleep 5")

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, OnSignal: c.on})

	done := make(chan *Result, 1)
	go func() {
		res, err := d.Run(context.Background(), "")
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-c.spawned:
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not spawn")
	}
	d.Stop()

	select {
	case res := <-done:
		assert.True(t, res.Stopped)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StateExited, d.State())
	assert.Equal(t, -1, indexOf(c.types(), SignalWarning))
}

func TestDriverStopBeforeSpawn(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.FakeAgent(t, dir, []string{`{"type":"step_finish","part":{"reason":"stop"}}`}, nil, 0)

	c := newCollector()
	d := New(Options{Binary: bin, Dir: dir, OnSignal: c.on})
	d.Stop()

	res, err := d.Run(context.Background(), "never runs")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Empty(t, testutil.ReadArgsLog(t, dir), "nothing is spawned")
	assert.Equal(t, -1, indexOf(c.types(), SignalSpawned))

	// The stop applied to that turn only.
	res, err = d.Run(context.Background(), "runs")
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.True(t, res.Completed)
}

func TestDriverReapsBackgroundChildren(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	launch := testutil.WriteScript(t, dir, "launch.sh",
		"sleep 300 >/dev/null 2>&1 &\necho $! > "+sanitize.ShellQuote(pidFile)+"\nexec \"$@\"")
	bin := testutil.FakeAgent(t, dir, []string{`{"type":"step_finish","part":{"reason":"stop"}}`}, nil, 0)

	d := New(Options{Binary: bin, Dir: dir, LaunchScript: launch})
	res, err := d.Run(context.Background(), "")
	require.NoError(t, err)
	require.True(t, res.Completed)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	// SIGKILL is asynchronous; allow the child a moment to go away.
	deadline := time.Now().Add(3 * time.Second)
	for process.IsProcessAlive(pid) && !isZombie(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d still running after a clean turn", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// isZombie reports whether pid has exited but not been reaped; a zombie
// still answers signal 0.
func isZombie(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestDriverBeforeLaunchRunsEveryTurn(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.FakeAgent(t, dir, nil, nil, 0)

	calls := 0
	d := New(Options{Binary: bin, Dir: dir, BeforeLaunch: func() error {
		calls++
		return nil
	}})

	for i := 0; i < 2; i++ {
		_, err := d.Run(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestInvocation(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		d := New(Options{Binary: "opencode"})
		name, args := d.Invocation("")
		assert.Equal(t, "opencode", name)
		assert.Equal(t, []string{"run", "--format", "json"}, args)
	})

	t.Run("sandboxed through launch script", func(t *testing.T) {
		d := New(Options{
			Binary:          "opencode",
			Mode:            "plan",
			SessionID:       "ses_1",
			LaunchScript:    "/ws/.airlock/launch.sh",
			Sandbox:         true,
			SandboxExecutor: "srt",
			PolicyFile:      "/ws/.airlock/sandbox-settings.json",
		})
		name, args := d.Invocation("fix it")
		assert.Equal(t, "/ws/.airlock/launch.sh", name)
		assert.Equal(t, []string{
			"srt", "--settings", "/ws/.airlock/sandbox-settings.json", "--",
			"opencode", "run", "--format", "json", "--session", "ses_1", "--agent", "plan", "--", "fix it",
		}, args)
	})
}

func TestDetectViolation(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"rm: cannot remove 'x': Operation not permitted", true},
		{"bash: /etc/shadow: PERMISSION DENIED", true},
		{"[blocked] network access to evil.com", true},
		{"bash: cannot set terminal process group: Inappropriate ioctl for device: permission denied", false},
		{"shell-init: error retrieving current directory: getcwd: Permission denied", false},
		{"no tty present: operation not permitted", false},
		{"sh: /dev/tty: Permission denied", false},
		{"cat: /home/u/pretty.txt: Permission denied", true},
		{"open /usr/share/getty/motd: operation not permitted", true},
		{"compiling...", false},
	}
	for _, tt := range tests {
		if got := DetectViolation(tt.line); got != tt.want {
			t.Errorf("DetectViolation(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
