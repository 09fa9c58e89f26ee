package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/internal/daemon/server"
	"github.com/grovetools/airlock/internal/daemon/store"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/registry"
	"github.com/grovetools/airlock/pkg/session"
	"github.com/grovetools/airlock/pkg/workspace"
	"github.com/grovetools/airlock/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManager wires a real driver to a fake agent script. Self is "true" so
// the launch script's relay step is a no-op.
func newManager(t *testing.T) *session.Manager {
	t.Helper()
	testutil.RequireSh(t)
	root := t.TempDir()

	bin := testutil.FakeAgent(t, root, []string{
		`{"type":"step_start","sessionID":"ses_daemon"}`,
		`{"type":"text","text":"pong"}`,
		`{"type":"step_finish","part":{"reason":"stop"}}`,
	}, nil, 0)

	reg, err := registry.Open(registry.Options{Path: filepath.Join(root, "sessions.json")})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Agent.Binary = bin
	cfg.State.Path = filepath.Join(root, "sessions.json")

	mgr := session.NewManager(session.Options{
		Config:   cfg,
		Registry: reg,
		Provisioner: workspace.New(workspace.Options{
			Root:      filepath.Join(root, "ws"),
			Binary:    "fake-agent",
			Providers: credproxy.Builtin(),
			Self:      "true",
		}),
		DisableHostServices: true,
	})
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func startDaemon(t *testing.T, mgr *session.Manager) string {
	t.Helper()
	socket := testutil.SocketPath(t, "d.sock")
	srv := server.New(server.Options{Manager: mgr, Store: store.New()})

	go srv.ListenAndServe(socket)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	require.Eventually(t, func() bool { return daemon.Reachable(socket) }, 5*time.Second, 10*time.Millisecond)
	return socket
}

type signalLog struct {
	mu    sync.Mutex
	types []agent.SignalType
	text  string
}

func (l *signalLog) on(s agent.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, s.Type)
	if s.Type == agent.SignalOutput {
		l.text += s.Text
	}
}

func (l *signalLog) snapshot() ([]agent.SignalType, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]agent.SignalType(nil), l.types...), l.text
}

func TestRemoteClientRunsTurnWithSignals(t *testing.T) {
	mgr := newManager(t)
	socket := startDaemon(t, mgr)

	client, err := daemon.New(socket, func() (*session.Manager, error) {
		t.Fatal("local fallback used while the daemon is running")
		return nil, nil
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.IsRunning())

	var log signalLog
	res, err := client.RunTurn(context.Background(), daemon.TurnRequest{Channel: "#dev", Prompt: "ping"}, log.on)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Output)
	assert.True(t, res.Completed)

	types, text := log.snapshot()
	assert.Equal(t, "pong", text)
	require.NotEmpty(t, types)
	assert.Equal(t, agent.SignalSpawned, types[0])
	assert.Equal(t, agent.SignalExit, types[len(types)-1])

	sessions, err := client.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ses_daemon", sessions[0].SessionID)
	assert.NotEmpty(t, sessions[0].Alias)
}

func TestRemoteClientAdministration(t *testing.T) {
	mgr := newManager(t)
	socket := startDaemon(t, mgr)
	client, err := daemon.NewRemoteClient(socket)
	require.NoError(t, err)
	ctx := context.Background()

	folder, err := client.Bind(ctx, "c", "proj")
	require.NoError(t, err)
	assert.Equal(t, "proj", folder)

	_, err = client.Bind(ctx, "c", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidName, errors.GetCode(err))

	id, err := client.Rebind(ctx, "c", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ses_abc", id)

	require.NoError(t, client.SetMode(ctx, "c", "plan"))
	assert.Equal(t, "plan", mgr.Registry().Mode("c"))

	require.NoError(t, client.RemoveSession(ctx, "c", false))
	_, ok := mgr.Registry().SessionFor("c")
	assert.False(t, ok)
}

func TestRemoteStreamReplay(t *testing.T) {
	mgr := newManager(t)
	socket := startDaemon(t, mgr)
	client, err := daemon.NewRemoteClient(socket)
	require.NoError(t, err)

	_, err = client.RunTurn(context.Background(), daemon.TurnRequest{Channel: "r", Prompt: "x"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := client.Stream(ctx, "r", true)
	require.NoError(t, err)

	var settled bool
	for u := range updates {
		if u.Type == store.UpdateTurnSettled {
			settled = true
			cancel()
		}
	}
	assert.True(t, settled, "replay includes the finished turn")
}

func TestFallbackToLocalClient(t *testing.T) {
	mgr := newManager(t)
	missing := filepath.Join(t.TempDir(), "none.sock")

	client, err := daemon.New(missing, func() (*session.Manager, error) { return mgr, nil })
	require.NoError(t, err)
	require.IsType(t, &daemon.LocalClient{}, client)
	assert.False(t, client.IsRunning())

	var log signalLog
	res, err := client.RunTurn(context.Background(), daemon.TurnRequest{Channel: "l"}, log.on)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Output)

	_, err = client.Stream(context.Background(), "l", false)
	assert.Error(t, err)

	sessions, err := client.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "l", sessions[0].Channel)
}

func TestConfigWatcherReloadsManager(t *testing.T) {
	mgr := newManager(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "airlock.yml")
	require.NoError(t, os.WriteFile(path, []byte("network:\n  mode: merge\n"), 0644))

	reloaded := make(chan string, 4)
	logger := testLogger()
	w, err := daemon.NewConfigWatcher(path, 20*time.Millisecond,
		daemon.ReloadManager(mgr, logger, func(file string) { reloaded <- file }), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// An invalid file is rejected and the previous config stays.
	require.NoError(t, os.WriteFile(path, []byte("network:\n  mode: sideways\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, config.NetworkModeMerge, mgr.Config().Network.Mode)

	require.NoError(t, os.WriteFile(path, []byte("network:\n  mode: strict\n"), 0644))
	select {
	case file := <-reloaded:
		assert.Equal(t, "airlock.yml", filepath.Base(file))
	case <-time.After(5 * time.Second):
		t.Fatal("config change not picked up")
	}
	assert.Equal(t, config.NetworkModeStrict, mgr.Config().Network.Mode)
}
