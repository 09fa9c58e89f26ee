package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/pkg/bridge"
	"github.com/grovetools/airlock/pkg/policy"
	"github.com/spf13/cobra"
)

// Shim defaults used inside a workspace.
const (
	defaultShimSocket  = "./.airlock/bridge.sock"
	defaultShimCommand = "gh"
)

// NewBridgeCmd returns the command running a standalone host bridge.
func NewBridgeCmd() *cobra.Command {
	var (
		socket  string
		workDir string
	)

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run a host bridge on a Unix socket",
		Long: `Run a host bridge on a Unix socket until interrupted.

The bridge runs allow-listed commands on the host for callers inside a
workspace and injects the configured credential into their environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if socket == "" {
				return fmt.Errorf("--socket is required")
			}
			logger := cli.GetLogger(cmd, "bridge")

			fetchDomains, err := policy.Domains(cfg.Network.Mode, cfg.Network.AllowedDomains)
			if err != nil {
				return err
			}

			srv := bridge.NewServer(bridge.Options{
				SocketPath:      socket,
				SocketMode:      os.FileMode(cfg.Bridge.SocketMode),
				WorkDir:         workDir,
				AllowedCommands: cfg.Bridge.AllowedCommands,
				DenyPatterns:    policy.DeniedCommands(cfg.Network.ProtectedBranches),
				CredentialEnv:   cfg.Bridge.CredentialEnv,
				Credential:      cfg.Bridge.Credential,
				FetchDomains:    fetchDomains,
				Logger:          logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Listen(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info("Received stop signal")
			return srv.Close()
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket to listen on")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory when the caller's does not exist on the host")
	return cmd
}

// NewShimCmd returns the bridge client installed behind command wrappers
// inside a workspace.
func NewShimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shim -- [args...]",
		Short: "Forward a command to the host bridge",
		Long: `Forward a command to the host bridge and relay its output.

The command name comes from SHIM_COMMAND (default gh) and the socket from
BRIDGE_SOCK (default ./.airlock/bridge.sock). The remote exit code becomes
this process's exit code.`,
		DisableFlagParsing: true,
		Hidden:             true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && args[0] == "--" {
				args = args[1:]
			}
			code := runShim(cmd.Context(), args, os.Getenv, cmd.OutOrStdout(), cmd.ErrOrStderr())
			os.Exit(code)
			return nil
		},
	}
}

// runShim sends one request and returns the exit code to use.
func runShim(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	socket := getenv("BRIDGE_SOCK")
	if socket == "" {
		socket = defaultShimSocket
	}
	name := getenv("SHIM_COMMAND")
	if name == "" {
		name = defaultShimCommand
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	if abs, err := filepath.Abs(socket); err == nil {
		socket = abs
	}

	code, err := bridge.Call(ctx, socket, bridge.Request{
		Command: name,
		Args:    args,
		Cwd:     cwd,
	}, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "[Shim Error] %s\n", err.Error())
		return 1
	}
	return code
}
