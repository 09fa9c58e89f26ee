// Package cmd holds the airlock subcommands.
package cmd

import (
	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/profiling"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the airlock command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"airlock",
		"Run a coding agent inside an isolated, credential-free workspace",
	)

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewSessionCmd())
	root.AddCommand(NewPolicyCmd())
	root.AddCommand(NewBridgeCmd())
	root.AddCommand(NewShimCmd())
	root.AddCommand(NewRelayCmd())
	root.AddCommand(NewCredproxyCmd())
	root.AddCommand(NewFetchProxyCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(cli.NewVersionCommand("airlock"))

	profiling.NewCobraProfiler().Attach(root)
	return root
}

// ExitCode maps a command error to the process exit status. An agent that
// exited abnormally passes its own code through.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ae *errors.AirlockError
	if errors.As(err, &ae) && ae.Code == errors.ErrCodeAbnormalExit {
		if code, ok := ae.Details["exitCode"].(int); ok && code > 0 && code < 256 {
			return code
		}
	}
	return 1
}
