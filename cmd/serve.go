package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/internal/daemon/pidfile"
	"github.com/grovetools/airlock/internal/daemon/server"
	"github.com/grovetools/airlock/internal/daemon/store"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/paths"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long serve waits for running turns on exit.
const shutdownTimeout = 10 * time.Second

// NewServeCmd returns the daemon command with its stop and status subcommands.
func NewServeCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the airlock daemon in the foreground",
		Long: `Run the airlock daemon in the foreground.

The daemon owns the session registry, serves the HTTP API and the event
stream on a Unix socket and reloads its configuration when the file changes.
Other airlock commands use it automatically while it is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configFile, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.Server.Socket = socket
			}
			logger := cli.GetLogger(cmd, "airlockd")

			if err := paths.EnsureDirs(); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "create airlock directories")
			}

			// 1. Acquire lock
			pidPath := paths.PidFilePath()
			if err := pidfile.Acquire(pidPath); err != nil {
				return err
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// 2. Manager and update store
			mgr, err := newManager(cfg, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()

			st := store.New()
			srv := server.New(server.Options{
				Manager:    mgr,
				Store:      st,
				ConfigFile: configFile,
				Logger:     logger,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// 3. Hot reload
			if configFile != "" {
				watcher, err := daemon.NewConfigWatcher(configFile, daemon.DefaultDebounce,
					daemon.ReloadManager(mgr, logger, st.BroadcastConfigReload), logger)
				if err != nil {
					logger.WithError(err).Warn("Config hot reload disabled")
				} else {
					defer watcher.Close()
					go watcher.Start(ctx)
				}
			}

			// 4. Handle signals
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)

			go func() {
				select {
				case <-stop:
					logger.Info("Received stop signal")
				case <-ctx.Done():
				}
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
			}()

			// 5. Serve (blocking)
			logger.WithField("pid", os.Getpid()).WithField("config", configFile).Info("Starting daemon")
			if err := srv.ListenAndServe(cfg.Server.Socket); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket for the API (defaults to server.socket)")
	cmd.AddCommand(newServeStopCmd())
	cmd.AddCommand(newServeStatusCmd())
	return cmd
}

func newServeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newServeStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Fprintf(cmd.OutOrStdout(), "Running (PID: %d)\nSocket: %s\n", pid, cfg.Server.Socket)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			os.Exit(1) // non-zero for scripts
			return nil
		},
	}
}
