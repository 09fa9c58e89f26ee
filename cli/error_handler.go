package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/tui/theme"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose, Out: os.Stderr}
}

// Handle prints an operator-facing message for err and returns it.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	t := theme.DefaultTheme
	prefix := t.Error.Render(theme.IconError)
	detail := func(key string) interface{} {
		var ae *errors.AirlockError
		if errors.As(err, &ae) && ae.Details != nil {
			return ae.Details[key]
		}
		return nil
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "%s Configuration not found: %v\n", prefix, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Create airlock.yml or pass --config. Without a file built-in defaults apply."))

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "%s Invalid configuration: %v\n", prefix, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Run 'airlock config schema' to see the accepted keys."))

	case errors.ErrCodeInvalidName:
		fmt.Fprintf(h.Out, "%s %q is not a usable workspace folder name\n", prefix, detail("name"))
		fmt.Fprintln(h.Out, t.Muted.Render("Folder names keep only letters, digits, '.', '_' and '-'."))

	case errors.ErrCodeTurnInFlight:
		fmt.Fprintf(h.Out, "%s A turn is already running on channel %v\n", prefix, detail("channel"))
		fmt.Fprintln(h.Out, t.Muted.Render("Wait for it to finish or stop it with 'airlock session remove --keep'."))

	case errors.ErrCodeSpawnFailed:
		fmt.Fprintf(h.Out, "%s Could not start the agent: %v\n", prefix, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Check agent.binary in the configuration and that it is on PATH."))

	case errors.ErrCodeSandboxViolation:
		fmt.Fprintf(h.Out, "%s %s The sandbox blocked an action: %v\n", prefix, theme.IconViolation, detail("blocked"))

	case errors.ErrCodeAbnormalExit:
		fmt.Fprintf(h.Out, "%s %v\n", t.Warning.Render(theme.IconWarning), err)

	case errors.ErrCodeBridgeRejected:
		fmt.Fprintf(h.Out, "%s The host bridge refused the command: %v\n", prefix, err)

	case errors.ErrCodeBridgeUnavailable:
		fmt.Fprintf(h.Out, "%s Host service unavailable: %v\n", prefix, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Is 'airlock serve' running?"))

	default:
		fmt.Fprintf(h.Out, "%s Error: %v\n", prefix, err)
	}

	if h.Verbose {
		var ae *errors.AirlockError
		if errors.As(err, &ae) {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", ae.ToJSON())
		}
	}
	return err
}
