// Package theme holds the terminal palette shared by log output, CLI
// tables and the live turn view.
package theme

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Kanagawa palette, dark and light variants.
var (
	green  = lipgloss.AdaptiveColor{Dark: "#98BB6C", Light: "#4E7C5A"}
	yellow = lipgloss.AdaptiveColor{Dark: "#FF9E3B", Light: "#A68A64"}
	red    = lipgloss.AdaptiveColor{Dark: "#FF5D62", Light: "#C34043"}
	cyan   = lipgloss.AdaptiveColor{Dark: "#7E9CD8", Light: "#5B8BBE"}
	violet = lipgloss.AdaptiveColor{Dark: "#957FB8", Light: "#674D7A"}
	muted  = lipgloss.AdaptiveColor{Dark: "#727169", Light: "#6C7086"}
	border = lipgloss.AdaptiveColor{Dark: "#363646", Light: "#B5BDC5"}
)

// Theme is a set of named styles.
type Theme struct {
	Header  lipgloss.Style
	Accent  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style

	TableHeader lipgloss.Style
	TableBorder lipgloss.Style
	Box         lipgloss.Style
}

// DefaultTheme is used everywhere unless NO_COLOR is set.
var DefaultTheme = New()

// New builds the theme, dropping colors when NO_COLOR is present.
func New() *Theme {
	if os.Getenv("NO_COLOR") != "" {
		plain := lipgloss.NewStyle()
		return &Theme{
			Header:      plain.Bold(true),
			Accent:      plain,
			Success:     plain,
			Warning:     plain,
			Error:       plain,
			Info:        plain,
			Muted:       plain,
			Bold:        plain.Bold(true),
			TableHeader: plain.Bold(true).Padding(0, 1),
			TableBorder: plain,
			Box:         plain.Padding(0, 1),
		}
	}

	return &Theme{
		Header:      lipgloss.NewStyle().Bold(true).Foreground(cyan),
		Accent:      lipgloss.NewStyle().Foreground(violet),
		Success:     lipgloss.NewStyle().Foreground(green),
		Warning:     lipgloss.NewStyle().Foreground(yellow),
		Error:       lipgloss.NewStyle().Foreground(red).Bold(true),
		Info:        lipgloss.NewStyle().Foreground(cyan),
		Muted:       lipgloss.NewStyle().Foreground(muted),
		Bold:        lipgloss.NewStyle().Bold(true),
		TableHeader: lipgloss.NewStyle().Bold(true).Foreground(cyan).Padding(0, 1),
		TableBorder: lipgloss.NewStyle().Foreground(border),
		Box:         lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
	}
}

// Status icons. Plain unicode so no patched font is needed.
const (
	IconSuccess   = "✓"
	IconError     = "✗"
	IconWarning   = "!"
	IconViolation = "⛔"
	IconTool      = "›"
	IconThinking  = "…"
)
