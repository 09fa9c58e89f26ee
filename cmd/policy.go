package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/pkg/policy"
	"github.com/spf13/cobra"
)

// NewPolicyCmd returns the sandbox policy commands.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the sandbox policy",
	}
	cmd.AddCommand(newPolicyRenderCmd())
	return cmd
}

func newPolicyRenderCmd() *cobra.Command {
	var (
		mode      string
		workspace string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Compile and print the sandbox settings for a workspace",
		Example: `  airlock policy render --mode strict
  airlock policy render --workspace ./ws --output ./ws/.airlock/policy.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Network.Mode
			}
			if workspace == "" {
				if workspace, err = os.Getwd(); err != nil {
					return err
				}
			}
			workspace, err = filepath.Abs(workspace)
			if err != nil {
				return err
			}

			home, _ := os.UserHomeDir()
			pol, err := policy.Compile(policy.Options{
				Mode:              mode,
				AllowedDomains:    cfg.Network.AllowedDomains,
				ProtectedBranches: cfg.Network.ProtectedBranches,
				Workspace:         workspace,
				ControlDir:        filepath.Join(workspace, ".airlock"),
				HostHome:          home,
				SourceDir:         cfg.Sandbox.SourceDir,
				StateDir:          filepath.Dir(cfg.State.Path),
				DenyRead:          cfg.Sandbox.DenyRead,
			})
			if err != nil {
				return err
			}

			if output != "" {
				if err := pol.Write(output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Policy written to %s\n", output)
				return nil
			}
			data, err := pol.Render()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Network mode: merge, replace or strict (defaults to network.mode)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (defaults to the working directory)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the policy to this file instead of stdout")
	return cmd
}
