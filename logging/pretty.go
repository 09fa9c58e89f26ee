package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grovetools/airlock/tui/theme"
)

// PrettyLogger writes operator-facing status lines, separate from structured logs.
type PrettyLogger struct {
	writer io.Writer
	theme  *theme.Theme
}

// NewPrettyLogger creates a pretty logger writing to stderr.
func NewPrettyLogger() *PrettyLogger {
	return &PrettyLogger{
		writer: os.Stderr,
		theme:  theme.DefaultTheme,
	}
}

// WithWriter sets a custom writer for pretty output
func (p *PrettyLogger) WithWriter(w io.Writer) *PrettyLogger {
	p.writer = w
	return p
}

// Success prints a message with a checkmark.
func (p *PrettyLogger) Success(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.theme.Success.Render(theme.IconSuccess),
		p.theme.Success.Render(message))
}

// InfoPretty prints an informational line.
func (p *PrettyLogger) InfoPretty(message string) {
	fmt.Fprintf(p.writer, "%s\n", p.theme.Info.Render(message))
}

// WarnPretty prints a warning.
func (p *PrettyLogger) WarnPretty(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.theme.Warning.Render(theme.IconWarning),
		p.theme.Warning.Render(message))
}

// ErrorPretty prints an error.
func (p *PrettyLogger) ErrorPretty(message string, err error) {
	fmt.Fprintf(p.writer, "%s %s",
		p.theme.Error.Render(theme.IconError),
		p.theme.Error.Render(message))
	if err != nil {
		fmt.Fprintf(p.writer, ": %s", p.theme.Error.Render(err.Error()))
	}
	fmt.Fprintln(p.writer)
}

// Violation prints a blocked action so the operator can decide whether to retry.
func (p *PrettyLogger) Violation(blocked string) {
	fmt.Fprintf(p.writer, "%s %s\n  %s\n",
		theme.IconViolation,
		p.theme.Error.Render("sandbox blocked an action; the turn was stopped"),
		p.theme.Muted.Render(blocked))
}

// Tool prints the active tool name.
func (p *PrettyLogger) Tool(name, status string) {
	line := fmt.Sprintf("%s %s", theme.IconTool, name)
	if status != "" {
		line += " (" + status + ")"
	}
	fmt.Fprintln(p.writer, p.theme.Muted.Render(line))
}

// Field prints a key-value pair.
func (p *PrettyLogger) Field(key string, value interface{}) {
	fmt.Fprintf(p.writer, "%s: %s\n",
		p.theme.Muted.Render(key),
		p.theme.Bold.Render(fmt.Sprint(value)))
}

// Lines prints a block indented under the previous line.
func (p *PrettyLogger) Lines(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintf(p.writer, "  %s\n", p.theme.Muted.Render(line))
	}
}
