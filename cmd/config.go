package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/logging"
	"github.com/grovetools/airlock/pkg/paths"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd returns the configuration inspection commands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect airlock configuration",
	}
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathsCmd())
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for airlock.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}

			if path == "" {
				path = "(built-in defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newConfigPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the directories and files airlock uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				path = "-"
			}

			entries := []struct {
				key, value string
			}{
				{"config_file", path},
				{"config_dir", paths.ConfigDir()},
				{"data_dir", paths.DataDir()},
				{"state_dir", paths.StateDir()},
				{"cache_dir", paths.CacheDir()},
				{"runtime_dir", paths.RuntimeDir()},
				{"log_dir", paths.LogDir()},
				{"workspaces", cfg.Workspace.Root},
				{"registry", cfg.State.Path},
				{"socket", cfg.Server.Socket},
				{"pid_file", paths.PidFilePath()},
			}

			if cli.GetOptions(cmd).JSONOutput {
				out := make(map[string]string, len(entries))
				for _, e := range entries {
					out[e.key] = e.value
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			for _, e := range entries {
				pretty.Field(e.key, e.value)
			}
			return nil
		},
	}
}
