package main

import (
	"os"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		os.Exit(cmd.ExitCode(err))
	}
}
