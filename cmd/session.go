package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/tui/theme"
	"github.com/spf13/cobra"
)

// NewSessionCmd returns the registry administration commands.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Inspect and administer channel sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionResolveCmd())
	cmd.AddCommand(newSessionBindCmd())
	cmd.AddCommand(newSessionRebindCmd())
	cmd.AddCommand(newSessionModeCmd())
	cmd.AddCommand(newSessionRemoveCmd())
	return cmd
}

// withClient loads config, opens a client and hands it to fn.
func withClient(cmd *cobra.Command, fn func(daemon.Client) error) error {
	cfg, _, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, cli.GetLogger(cmd, "airlock"))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List channels and their sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				sessions, err := client.Sessions(cmd.Context())
				if err != nil {
					return err
				}

				if cli.GetOptions(cmd).JSONOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(sessions)
				}

				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), theme.DefaultTheme.Muted.Render("No sessions recorded"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
					[]string{"CHANNEL", "SESSION", "ALIAS", "MODE", "TURNS", "FOLDER", "STATE"},
					sessionRows(sessions),
				))
				return nil
			})
		},
	}
}

func sessionRows(sessions []daemon.SessionInfo) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		folder := s.Workspace
		if folder == "" {
			folder = s.Binding
		}
		state := "idle"
		if s.InFlight {
			state = "running"
		}
		rows = append(rows, []string{
			s.Channel,
			dash(s.SessionID),
			dash(s.Alias),
			dash(s.Mode),
			strconv.Itoa(s.Turns),
			dash(folder),
			state,
		})
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newSessionResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <alias-or-id>",
		Short: "Print the session identifier an alias or raw id maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			reg, err := openRegistry(cfg, cli.GetLogger(cmd, "airlock"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reg.Resolve(args[0]))
			return nil
		},
	}
}

func newSessionBindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bind <channel> <folder>",
		Short: "Bind a channel to a stable workspace folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				folder, err := client.Bind(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s bound to folder %s\n",
					theme.DefaultTheme.Success.Render(theme.IconSuccess), args[0], folder)
				return nil
			})
		},
	}
}

func newSessionRebindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebind <channel> <alias-or-id>",
		Short: "Point a channel at an existing session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				sessionID, err := client.Rebind(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s now uses %s\n",
					theme.DefaultTheme.Success.Render(theme.IconSuccess), args[0], sessionID)
				return nil
			})
		},
	}
}

func newSessionModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <channel> [mode]",
		Short: "Record the behavioral profile for a channel",
		Long:  "Record the behavioral profile for a channel. Omitting the mode clears it.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ""
			if len(args) == 2 {
				mode = args[1]
			}
			return withClient(cmd, func(client daemon.Client) error {
				return client.SetMode(cmd.Context(), args[0], mode)
			})
		},
	}
}

func newSessionRemoveCmd() *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:     "remove <channel>",
		Aliases: []string{"rm"},
		Short:   "Stop a channel's turn and forget its session",
		Long: `Stop a channel's running turn and forget its session.

With --keep the running turn is stopped but the session mapping stays, so
the next turn resumes the same conversation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				return client.RemoveSession(cmd.Context(), args[0], keep)
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the session mapping (restart)")
	return cmd
}
