// Package turnview is the live terminal view for airlock run --tui: a
// spinner with the agent's current state, recent tool calls and the
// streamed output.
package turnview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/tui/theme"
)

const maxTools = 5

// SignalMsg delivers one driver signal to the model.
type SignalMsg struct{ Signal agent.Signal }

// DoneMsg reports the settled turn.
type DoneMsg struct {
	Result *agent.Result
	Err    error
}

type toolLine struct {
	name   string
	status string
}

// Model is the bubbletea model for one turn.
type Model struct {
	channel string
	cancel  context.CancelFunc
	theme   *theme.Theme

	spinner   spinner.Model
	status    string
	tools     []toolLine
	output    strings.Builder
	warning   string
	violation string
	width     int
	started   time.Time
	now       func() time.Time

	done   bool
	result *agent.Result
	err    error
}

// New creates the model. cancel stops the turn when the operator quits.
func New(channel string, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.DefaultTheme.Accent

	return &Model{
		channel: channel,
		cancel:  cancel,
		theme:   theme.DefaultTheme,
		spinner: s,
		status:  "starting",
		width:   80,
		started: time.Now(),
		now:     time.Now,
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			m.status = "stopping"
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case SignalMsg:
		m.apply(msg.Signal)
		return m, nil

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(s agent.Signal) {
	switch s.Type {
	case agent.SignalSpawned:
		m.status = "spawned"
	case agent.SignalThinking:
		m.status = "thinking"
	case agent.SignalOutput:
		m.status = "writing"
		m.output.WriteString(s.Text)
	case agent.SignalToolUse:
		m.status = "running " + s.Tool
		m.tools = append(m.tools, toolLine{name: s.Tool, status: s.ToolStatus})
		if len(m.tools) > maxTools {
			m.tools = m.tools[len(m.tools)-maxTools:]
		}
	case agent.SignalHeartbeat:
		m.status = "still working"
	case agent.SignalIdle, agent.SignalComplete:
		m.status = "idle"
	case agent.SignalWarning:
		m.warning = s.Message
	case agent.SignalViolation:
		m.violation = s.Message
		m.status = "blocked"
	case agent.SignalError:
		m.warning = s.Message
		m.status = "error"
	case agent.SignalExit:
		m.status = "exited"
	}
}

func (m *Model) View() string {
	t := m.theme
	var b strings.Builder

	head := t.Header.Render("airlock") + " " + t.Muted.Render(m.channel)
	elapsed := m.now().Sub(m.started).Round(time.Second)
	if m.done {
		b.WriteString(fmt.Sprintf("%s  %s %s\n", head, t.Success.Render(theme.IconSuccess), t.Muted.Render(elapsed.String())))
	} else {
		b.WriteString(fmt.Sprintf("%s  %s %s %s\n", head, m.spinner.View(), m.status, t.Muted.Render(elapsed.String())))
	}

	for _, tool := range m.tools {
		style := t.Muted
		if tool.status == "failed" {
			style = t.Error
		}
		b.WriteString(fmt.Sprintf(" %s %s %s\n", t.Accent.Render(theme.IconTool), tool.name, style.Render(tool.status)))
	}

	if m.violation != "" {
		b.WriteString(t.Error.Render(fmt.Sprintf(" %s blocked: %s", theme.IconViolation, m.violation)) + "\n")
	}
	if m.warning != "" {
		b.WriteString(t.Warning.Render(" "+theme.IconWarning+" "+m.warning) + "\n")
	}

	if out := m.output.String(); out != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(out))
		b.WriteString("\n")
	}

	if !m.done {
		b.WriteString("\n" + t.Muted.Render("q to stop the turn") + "\n")
	}
	return b.String()
}

// Result returns the settled turn.
func (m *Model) Result() (*agent.Result, error) {
	return m.result, m.err
}

// TurnFunc runs a turn, reporting signals to onSignal.
type TurnFunc func(ctx context.Context, onSignal func(agent.Signal)) (*agent.Result, error)

// Run shows the view while turn runs and returns its outcome.
func Run(ctx context.Context, channel string, turn TurnFunc, opts ...tea.ProgramOption) (*agent.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := New(channel, cancel)
	p := tea.NewProgram(model, opts...)

	go func() {
		res, err := turn(ctx, func(s agent.Signal) { p.Send(SignalMsg{Signal: s}) })
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}
	return model.Result()
}
