package cmd

import (
	"os"
	"path/filepath"

	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/registry"
	"github.com/grovetools/airlock/pkg/session"
	"github.com/grovetools/airlock/pkg/workspace"
	"github.com/sirupsen/logrus"
)

// newManager builds the session manager a command runs turns through.
func newManager(cfg *config.Config, logger *logrus.Entry) (*session.Manager, error) {
	reg, err := openRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	var ports [2]int
	copy(ports[:], cfg.Workspace.PortRange)

	providers := credproxy.Resolve(cfg.Providers)
	prov := workspace.New(workspace.Options{
		Root:          cfg.Workspace.Root,
		Binary:        filepath.Base(cfg.Agent.Binary),
		HostConfigDir: cfg.Workspace.HostConfigDir,
		SyncExclude:   cfg.Workspace.SyncExclude,
		PortRange:     ports,
		Providers:     providers,
		Self:          self,
		ShimCommands:  cfg.Bridge.AllowedCommands,
		Logger:        logger.WithField("component", "workspace"),
	})

	return session.NewManager(session.Options{
		Config:      cfg,
		Registry:    reg,
		Provisioner: prov,
		Providers:   providers,
		Logger:      logger,
	}), nil
}

func openRegistry(cfg *config.Config, logger *logrus.Entry) (*registry.Store, error) {
	return registry.Open(registry.Options{
		Path:   cfg.State.Path,
		Prefix: cfg.Agent.SessionPrefix,
		Logger: logger.WithField("component", "registry"),
	})
}

// newClient talks to a running daemon when one answers on the configured
// socket and falls back to an in-process manager otherwise.
func newClient(cfg *config.Config, logger *logrus.Entry) (daemon.Client, error) {
	return daemon.New(cfg.Server.Socket, func() (*session.Manager, error) {
		return newManager(cfg, logger)
	})
}
