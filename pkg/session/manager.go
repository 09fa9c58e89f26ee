// Package session is the caller layer over the registry, the workspace
// provisioner and the agent driver. It enforces one turn in flight per
// channel and owns the per-workspace host services (bridge and credential
// proxy).
package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/airlock/command"
	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/bridge"
	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/pkg/policy"
	"github.com/grovetools/airlock/pkg/profiling"
	"github.com/grovetools/airlock/pkg/registry"
	"github.com/grovetools/airlock/pkg/workspace"
	"github.com/grovetools/airlock/util/sanitize"
	"github.com/sirupsen/logrus"
)

// DefaultFolder is used when a channel name sanitizes to nothing usable.
const DefaultFolder = "default"

// Driver is the part of *agent.Driver the manager uses.
type Driver interface {
	Run(ctx context.Context, prompt string) (*agent.Result, error)
	Stop()
	State() agent.State
	SessionID() string
}

// DriverFactory builds a driver for one turn.
type DriverFactory func(opts agent.Options) Driver

// Options configures a Manager.
type Options struct {
	Config      *config.Config
	Registry    *registry.Store
	Provisioner *workspace.Provisioner
	Providers   []credproxy.Provider

	// NewDriver defaults to agent.New.
	NewDriver DriverFactory
	// Executor is handed to drivers and bridges.
	Executor command.Executor
	// HostEnv defaults to os.Environ.
	HostEnv func() []string
	// DisableHostServices skips starting the bridge and credential proxy.
	DisableHostServices bool
	Logger              *logrus.Entry
}

// TurnRequest is one prompt on one channel.
type TurnRequest struct {
	Channel string
	// Session, when set, is resolved (alias or raw id) and used instead of
	// the channel's recorded session.
	Session  string
	Prompt   string
	OnSignal func(agent.Signal)
}

// Prepared is a driver bound to its resolved workspace.
type Prepared struct {
	Driver    Driver
	Workspace *workspace.Workspace
	SessionID string
	Mode      string
}

type hostServices struct {
	bridge *bridge.Server
	proxy  *credproxy.Proxy
}

// Manager coordinates turns across channels.
type Manager struct {
	opts   Options
	cfg    atomic.Pointer[config.Config]
	reg    *registry.Store
	prov   *workspace.Provisioner
	logger *logrus.Entry

	mu       sync.Mutex
	busy     map[string]bool
	live     map[string]Driver
	stopping map[string]bool
	services map[string]*hostServices
	closed   bool
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.NewDriver == nil {
		opts.NewDriver = func(o agent.Options) Driver { return agent.New(o) }
	}
	if opts.Executor == nil {
		opts.Executor = &command.RealExecutor{}
	}
	if opts.HostEnv == nil {
		opts.HostEnv = os.Environ
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Providers == nil {
		opts.Providers = credproxy.Resolve(opts.Config.Providers)
	}

	m := &Manager{
		opts:     opts,
		reg:      opts.Registry,
		prov:     opts.Provisioner,
		logger:   opts.Logger,
		busy:     make(map[string]bool),
		live:     make(map[string]Driver),
		stopping: make(map[string]bool),
		services: make(map[string]*hostServices),
	}
	m.cfg.Store(opts.Config)
	return m
}

// Config returns the configuration used for the next turn.
func (m *Manager) Config() *config.Config {
	return m.cfg.Load()
}

// SetConfig swaps the configuration. Running turns keep the one they
// started with; the policy file picks up the change on the next launch.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
	m.logger.Info("Session manager configuration updated")
}

// Registry exposes the underlying store.
func (m *Manager) Registry() *registry.Store {
	return m.reg
}

// InFlight reports whether a turn is running on channel.
func (m *Manager) InFlight(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[channel]
}

// ResolveFolder picks the workspace folder for a channel and session: the
// session's recorded workspace, then the channel binding, then the
// sanitized channel name, then DefaultFolder.
func (m *Manager) ResolveFolder(channel, sessionID string) string {
	if sessionID != "" {
		if folder, ok := m.reg.WorkspaceFor(sessionID); ok && folder != "" {
			return folder
		}
	}
	if folder, ok := m.reg.Binding(channel); ok {
		return folder
	}
	if clean := sanitize.ForFolderName(channel); sanitize.IsUsableFolderName(clean) {
		return clean
	}
	return DefaultFolder
}

// PrepareSession builds a fresh driver bound to the channel's workspace.
// The channel's recorded session is reused unless sessionInput names one.
func (m *Manager) PrepareSession(channel, sessionInput string, onSignal func(agent.Signal)) (*Prepared, error) {
	cfg := m.Config()

	sessionID := ""
	if sessionInput != "" {
		sessionID = m.reg.Resolve(sessionInput)
	} else if id, ok := m.reg.SessionFor(channel); ok {
		sessionID = id
	}

	folder := m.ResolveFolder(channel, sessionID)
	span := profiling.Start("prepare workspace")
	w, err := m.prov.Prepare(folder)
	span.Stop()
	if err != nil {
		return nil, err
	}

	if !m.opts.DisableHostServices {
		if err := m.ensureServices(folder, w, cfg); err != nil {
			return nil, err
		}
	}

	mode := m.reg.Mode(channel)
	if mode == "" {
		mode = cfg.Agent.DefaultMode
	}

	logger := m.logger.WithField("channel", channel).WithField("folder", folder)
	forward := func(s agent.Signal) {
		if s.Type == agent.SignalSessionID && s.SessionID != "" {
			if err := m.reg.SetSession(channel, s.SessionID); err != nil {
				logger.WithError(err).Error("Failed to record session identifier")
			}
			if err := m.reg.SetWorkspace(s.SessionID, folder); err != nil {
				logger.WithError(err).Error("Failed to record session workspace")
			}
		}
		if onSignal != nil {
			onSignal(s)
		}
	}

	d := m.opts.NewDriver(agent.Options{
		Binary:          cfg.Agent.Binary,
		Mode:            mode,
		SessionID:       sessionID,
		Dir:             w.Dir,
		Env:             agent.BuildEnv(m.opts.HostEnv(), cfg.Env.Passthrough, cfg.Sandbox.Enabled),
		LaunchScript:    w.LaunchScript,
		Sandbox:         cfg.Sandbox.Enabled,
		SandboxExecutor: cfg.Sandbox.Executor,
		PolicyFile:      w.PolicyFile,
		ParseMode:       cfg.Agent.ParseMode,
		Heartbeat:       cfg.Agent.Heartbeat(),
		BeforeLaunch:    func() error { return m.writePolicy(w) },
		OnSignal:        forward,
		Executor:        m.opts.Executor,
		Logger:          logger,
	})

	return &Prepared{Driver: d, Workspace: w, SessionID: sessionID, Mode: mode}, nil
}

// RunTurn runs one prompt. A second call for a channel whose turn is still
// running fails with TURN_IN_FLIGHT and spawns nothing.
func (m *Manager) RunTurn(ctx context.Context, req TurnRequest) (*agent.Result, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.ErrCodeInternal, "session manager is closed")
	}
	if m.busy[req.Channel] {
		m.mu.Unlock()
		return nil, errors.TurnInFlight(req.Channel)
	}
	m.busy[req.Channel] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.busy, req.Channel)
		delete(m.live, req.Channel)
		delete(m.stopping, req.Channel)
		m.mu.Unlock()
	}()

	prepared, err := m.PrepareSession(req.Channel, req.Session, req.OnSignal)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.stopping[req.Channel] {
		m.mu.Unlock()
		m.logger.WithField("channel", req.Channel).Info("Turn stopped before spawn")
		return &agent.Result{Stopped: true, SessionID: prepared.SessionID}, nil
	}
	m.live[req.Channel] = prepared.Driver
	m.mu.Unlock()

	// An explicitly chosen session becomes the channel's session; the agent
	// will not announce an identifier it was started with.
	if req.Session != "" && prepared.SessionID != "" {
		if err := m.reg.SetSession(req.Channel, prepared.SessionID); err != nil {
			m.logger.WithError(err).Error("Failed to record session identifier")
		}
		if err := m.reg.SetWorkspace(prepared.SessionID, prepared.Workspace.Folder); err != nil {
			m.logger.WithError(err).Error("Failed to record session workspace")
		}
	}

	turns, err := m.reg.IncrementTurns(req.Channel)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to persist turn count")
	}

	start := time.Now()
	res, err := prepared.Driver.Run(ctx, req.Prompt)
	m.logger.WithFields(logrus.Fields{
		"channel":  req.Channel,
		"session":  prepared.Driver.SessionID(),
		"turn_no":  turns,
		"duration": time.Since(start).String(),
	}).Info("Turn settled")
	return res, err
}

// RemoveSession stops the channel's running turn. Without keepMapping the
// channel's session association is deleted too; the folder binding stays.
func (m *Manager) RemoveSession(channel string, keepMapping bool) error {
	m.mu.Lock()
	d := m.live[channel]
	if d == nil && m.busy[channel] {
		m.stopping[channel] = true
	}
	m.mu.Unlock()

	if d != nil {
		d.Stop()
		m.logger.WithField("channel", channel).Info("Stopped running turn")
	}
	if keepMapping {
		return nil
	}
	return m.reg.RemoveChannel(channel)
}

// Restart drops the channel's session so the next turn starts a new one in
// the same workspace folder.
func (m *Manager) Restart(channel string) error {
	return m.RemoveSession(channel, false)
}

// Rebind points a channel at an existing session (alias or identifier).
func (m *Manager) Rebind(channel, input string) (string, error) {
	return m.reg.Rebind(channel, input)
}

// Bind records a stable workspace folder for a channel.
func (m *Manager) Bind(channel, name string) (string, error) {
	return m.reg.BindChannelToFolder(channel, name)
}

// SetMode records the behavioral profile for a channel.
func (m *Manager) SetMode(channel, mode string) error {
	return m.reg.SetMode(channel, mode)
}

// Close stops every running turn and shuts the host services down.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	drivers := make([]Driver, 0, len(m.live))
	for _, d := range m.live {
		drivers = append(drivers, d)
	}
	services := m.services
	m.services = make(map[string]*hostServices)
	m.mu.Unlock()

	for _, d := range drivers {
		d.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for folder, svc := range services {
		if err := svc.bridge.Close(); err != nil {
			m.logger.WithError(err).WithField("folder", folder).Warn("Failed to close host bridge")
		}
		if err := svc.proxy.Close(ctx); err != nil {
			m.logger.WithError(err).WithField("folder", folder).Warn("Failed to close credential proxy")
		}
	}
	return nil
}

// ensureServices starts the bridge and credential proxy for a workspace
// the first time it is prepared.
func (m *Manager) ensureServices(folder string, w *workspace.Workspace, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[folder]; ok {
		return nil
	}

	mode := os.FileMode(cfg.Bridge.SocketMode)
	logger := m.logger.WithField("folder", folder)

	fetchDomains, err := policy.Domains(cfg.Network.Mode, cfg.Network.AllowedDomains)
	if err != nil {
		return err
	}

	b := bridge.NewServer(bridge.Options{
		SocketPath:      w.BridgeSocket,
		SocketMode:      mode,
		WorkDir:         cfg.Sandbox.SourceDir,
		AllowedCommands: cfg.Bridge.AllowedCommands,
		DenyPatterns:    policy.DeniedCommands(cfg.Network.ProtectedBranches),
		CredentialEnv:   cfg.Bridge.CredentialEnv,
		Credential:      cfg.Bridge.Credential,
		FetchDomains:    fetchDomains,
		Executor:        m.opts.Executor,
		Logger:          logger.WithField("component", "bridge"),
	})
	if err := b.Listen(context.Background()); err != nil {
		return err
	}

	p := credproxy.New(credproxy.Options{
		Providers: m.opts.Providers,
		Logger:    logger.WithField("component", "credproxy"),
	})
	if err := p.ListenUnix(w.ProxySocket, mode); err != nil {
		b.Close()
		return errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "start credential proxy")
	}

	m.services[folder] = &hostServices{bridge: b, proxy: p}
	return nil
}

// writePolicy regenerates the sandbox settings from the current config.
func (m *Manager) writePolicy(w *workspace.Workspace) error {
	cfg := m.Config()
	home, _ := os.UserHomeDir()
	stateDir := ""
	if cfg.State.Path != "" {
		stateDir = filepath.Dir(cfg.State.Path)
	}

	pol, err := policy.Compile(policy.Options{
		Mode:              cfg.Network.Mode,
		AllowedDomains:    cfg.Network.AllowedDomains,
		ProtectedBranches: cfg.Network.ProtectedBranches,
		Workspace:         w.Dir,
		ControlDir:        w.ControlDir,
		HostHome:          home,
		SourceDir:         cfg.Sandbox.SourceDir,
		StateDir:          stateDir,
		DenyRead:          cfg.Sandbox.DenyRead,
	})
	if err != nil {
		return err
	}
	return pol.Write(w.PolicyFile)
}
