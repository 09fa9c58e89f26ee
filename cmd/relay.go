package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/pkg/bridge"
	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/pkg/relay"
	"github.com/spf13/cobra"
)

// NewRelayCmd returns the loopback relay the launch script starts.
func NewRelayCmd() *cobra.Command {
	var (
		port   int
		socket string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward 127.0.0.1 TCP connections to a Unix socket",
		Long: `Forward 127.0.0.1 TCP connections to a Unix socket until interrupted.

Prints PORT:<n> with the bound port once listening. When the requested port
is taken the next free one is used.`,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socket == "" {
				return fmt.Errorf("--socket is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := &relay.Relay{Port: port, SocketPath: socket, Logger: cli.GetLogger(cmd, "relay")}
			bound, err := r.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PORT:%d\n", bound)

			<-ctx.Done()
			r.Stop()
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "First port to try (0 picks any free port)")
	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket to forward to")
	return cmd
}

// NewCredproxyCmd returns the command running a standalone credential proxy.
func NewCredproxyCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "credproxy",
		Short: "Run the credential proxy on a Unix socket",
		Long: `Run the credential proxy on a Unix socket until interrupted.

Requests to /<provider>/<path> are forwarded to the provider with the real
key taken from the host environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if socket == "" {
				return fmt.Errorf("--socket is required")
			}

			proxy := credproxy.New(credproxy.Options{
				Providers: credproxy.Resolve(cfg.Providers),
				Logger:    cli.GetLogger(cmd, "credproxy"),
			})
			if err := proxy.ListenUnix(socket, os.FileMode(cfg.Bridge.SocketMode)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return proxy.Close(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket to listen on")
	return cmd
}

// NewFetchProxyCmd returns the in-workspace HTTP proxy that sends each
// request through the host bridge as a proxy_fetch.
func NewFetchProxyCmd() *cobra.Command {
	var (
		port   int
		socket string
	)

	cmd := &cobra.Command{
		Use:   "fetch-proxy",
		Short: "Serve an HTTP proxy on 127.0.0.1 that fetches through the host bridge",
		Long: `Serve a plain HTTP proxy on 127.0.0.1 until interrupted.

Each request is handed to the host bridge, which performs it only when the
host is on the network policy's domain list. Prints PORT:<n> once listening.
The socket defaults to BRIDGE_SOCK, then ./.airlock/bridge.sock.`,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socket == "" {
				socket = os.Getenv("BRIDGE_SOCK")
			}
			if socket == "" {
				socket = defaultShimSocket
			}
			if abs, err := filepath.Abs(socket); err == nil {
				socket = abs
			}
			logger := cli.GetLogger(cmd, "fetch-proxy")

			l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           &bridge.FetchProxy{Socket: socket, Logger: logger},
				ReadHeaderTimeout: 10 * time.Second,
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PORT:%d\n", l.Addr().(*net.TCPAddr).Port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (0 picks any free port)")
	cmd.Flags().StringVar(&socket, "socket", "", "Host bridge socket")
	return cmd
}
