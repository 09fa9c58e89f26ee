// Package cli holds the pieces every airlock subcommand shares: standard
// flags, config resolution, styled help and operator-facing errors.
package cli

import (
	"os"

	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommandOptions holds common options for airlock commands
type CommandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with the standard flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to airlock.yml or airlock.toml")

	SetStyledHelp(cmd)
	return cmd
}

// GetLogger returns the component logger adjusted for the command flags.
func GetLogger(cmd *cobra.Command, component string) *logrus.Entry {
	var entry *logrus.Entry
	if path, err := ConfigPath(cmd); err == nil && path != "" {
		if cfg, err := config.Load(path); err == nil {
			entry = logging.ForConfig(component, cfg)
		}
	}
	if entry == nil {
		entry = logging.NewLogger(component)
	}
	opts := GetOptions(cmd)
	if opts.Verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
		entry.Logger.SetOutput(os.Stderr)
	}
	if opts.JSONOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return entry
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// ConfigPath returns the configuration file in effect: --config, then
// AIRLOCK_CONFIG, then the nearest file found from the working directory.
// An empty path with a nil error means built-in defaults.
func ConfigPath(cmd *cobra.Command) (string, error) {
	if path := GetOptions(cmd).ConfigFile; path != "" {
		return path, nil
	}
	if path := os.Getenv("AIRLOCK_CONFIG"); path != "" {
		return path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := config.FindConfigFile(cwd)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// LoadConfig loads the configuration ConfigPath selects.
func LoadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := ConfigPath(cmd)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
