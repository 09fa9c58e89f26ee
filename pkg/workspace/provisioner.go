package workspace

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/util/sanitize"
	"github.com/sirupsen/logrus"
)

// Options configures a Provisioner.
type Options struct {
	// Root holds one directory per workspace folder.
	Root string
	// Binary is the agent executable name; its config and auth store are
	// keyed by it.
	Binary string
	// HostConfigDir is copied into each workspace. Empty skips the copy.
	HostConfigDir string
	SyncExclude   []string
	// PortRange is the half-open [lo, hi) range relay ports are drawn from.
	PortRange [2]int
	Providers []credproxy.Provider
	// Self is the airlock executable the launch script and shims call.
	Self string
	// ShimCommands get wrapper scripts in the control bin directory.
	ShimCommands []string
	Rand         *rand.Rand
	Logger       *logrus.Entry
}

// Provisioner creates workspaces and remembers each folder's relay port for
// the life of the process.
type Provisioner struct {
	opts      Options
	providers []credproxy.Provider
	logger    *logrus.Entry

	mu    sync.Mutex
	ports map[string]int
	taken map[int]string
	rng   *rand.Rand
}

// New creates a Provisioner.
func New(opts Options) *Provisioner {
	if opts.PortRange[1] <= opts.PortRange[0] {
		opts.PortRange = [2]int{20000, 40000}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}
	if opts.Self == "" {
		if self, err := os.Executable(); err == nil {
			opts.Self = self
		} else {
			opts.Self = "airlock"
		}
	}
	if opts.Binary == "" {
		opts.Binary = "opencode"
	}
	return &Provisioner{
		opts:      opts,
		providers: opts.Providers,
		logger:    opts.Logger,
		ports:     make(map[string]int),
		taken:     make(map[int]string),
		rng:       opts.Rand,
	}
}

// Root returns the directory workspaces are created under.
func (p *Provisioner) Root() string {
	return p.opts.Root
}

// Prepare ensures the workspace for folder exists and is current: isolated
// directories, synchronized host config, ghost credentials, shims and a
// freshly written launch script. It is safe to call before every turn.
func (p *Provisioner) Prepare(folder string) (*Workspace, error) {
	if !sanitize.IsUsableFolderName(folder) {
		return nil, errors.InvalidName(folder)
	}

	w := Layout(p.opts.Root, folder)
	w.Port = p.Port(folder)

	for _, dir := range w.dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("create workspace directory %s", dir))
		}
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"sync host config", func() error { return p.syncHostConfig(w) }},
		{"write ghost credentials", func() error { return writeGhostCredentials(w, p.opts.Binary, p.providers) }},
		{"write shims", func() error { return writeShims(w, p.opts.Self, p.opts.ShimCommands) }},
		{"write launch script", func() error { return writeLaunchScript(w, p.opts.Self, p.providers) }},
		{"relax permissions", func() error { return relaxPermissions(w.Dir) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "workspace "+folder+": "+step.name)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"folder": folder,
		"dir":    w.Dir,
		"port":   w.Port,
	}).Debug("Workspace prepared")
	return w, nil
}

// Port returns the relay port for folder, choosing a random free one on
// first use.
func (p *Provisioner) Port(folder string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port, ok := p.ports[folder]; ok {
		return port
	}

	lo, hi := p.opts.PortRange[0], p.opts.PortRange[1]
	span := hi - lo
	port := lo + p.rng.Intn(span)
	for i := 0; i < span; i++ {
		candidate := lo + (port-lo+i)%span
		if _, used := p.taken[candidate]; !used {
			port = candidate
			break
		}
	}

	p.ports[folder] = port
	p.taken[port] = folder
	return port
}

// Release forgets the folder's port.
func (p *Provisioner) Release(folder string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.ports[folder]; ok {
		delete(p.taken, port)
		delete(p.ports, folder)
	}
}
