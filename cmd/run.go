package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grovetools/airlock/cli"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/logging"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/profiling"
	"github.com/grovetools/airlock/tui/turnview"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// NewRunCmd returns the command that runs one agent turn.
func NewRunCmd() *cobra.Command {
	var (
		channel string
		session string
		mode    string
		useTUI  bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run one agent turn on a channel",
		Long: `Run one agent turn on a channel inside its isolated workspace.

The prompt is taken from the arguments, or from stdin when no arguments are
given or the only argument is "-". When an airlock daemon is serving, the turn
runs there; otherwise it runs in this process.`,
		Example: `  airlock run "summarize the open issues"
  echo "fix the failing test" | airlock run --channel work
  airlock run --session otter --tui "continue"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			span := profiling.Start("load config")
			cfg, _, err := cli.LoadConfig(cmd)
			span.Stop()
			if err != nil {
				return err
			}
			logger := cli.GetLogger(cmd, "airlock")

			span = profiling.Start("connect")
			client, err := newClient(cfg, logger)
			span.Stop()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if mode != "" {
				if err := client.SetMode(ctx, channel, mode); err != nil {
					return err
				}
			}

			req := daemon.TurnRequest{Channel: channel, Session: session, Prompt: prompt}
			turn := func(ctx context.Context, onSignal func(agent.Signal)) (*agent.Result, error) {
				defer profiling.Start("turn").Stop()
				return client.RunTurn(ctx, req, onSignal)
			}

			var res *agent.Result
			if useTUI && isatty.IsTerminal(os.Stdout.Fd()) {
				res, err = turnview.Run(ctx, channel, turn)
				if err == nil && res != nil && res.Output != "" {
					fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(res.Output, "\n"))
				}
			} else {
				res, err = turn(ctx, signalPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			}
			if err != nil {
				return err
			}
			return turnExit(res)
		},
	}

	cmd.Flags().StringVarP(&channel, "channel", "C", "cli", "Conversation channel the turn belongs to")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session alias or identifier to use instead of the channel's own")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Behavioral profile to record for the channel")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show a live view of the turn")

	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "read prompt from stdin")
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "prompt cannot be empty")
	}
	return prompt, nil
}

// signalPrinter streams output text to out and progress to status.
func signalPrinter(out, status io.Writer) func(agent.Signal) {
	pretty := logging.NewPrettyLogger().WithWriter(status)
	return func(s agent.Signal) {
		switch s.Type {
		case agent.SignalOutput:
			fmt.Fprint(out, s.Text)
		case agent.SignalToolUse:
			pretty.Tool(s.Tool, s.ToolStatus)
		case agent.SignalViolation:
			pretty.Violation(s.Message)
		case agent.SignalWarning:
			pretty.WarnPretty(s.Message)
			if len(s.StderrTail) > 0 {
				pretty.Lines(strings.Join(s.StderrTail, "\n"))
			}
		case agent.SignalError:
			pretty.ErrorPretty("agent error", fmt.Errorf("%s", s.Message))
		case agent.SignalExit:
			fmt.Fprintln(out)
		}
	}
}

// turnExit maps a finished turn to the command's error.
func turnExit(res *agent.Result) error {
	if res == nil || res.Stopped || res.ExitCode == 0 {
		return nil
	}
	return errors.AbnormalExit(res.ExitCode, res.StderrTail)
}
