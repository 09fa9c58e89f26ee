package turnview

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func send(m *Model, signals ...agent.Signal) {
	for _, s := range signals {
		m.Update(SignalMsg{Signal: s})
	}
}

func TestSignalsDriveStatus(t *testing.T) {
	m := New("#ops", nil)

	send(m, agent.Signal{Type: agent.SignalSpawned})
	assert.Equal(t, "spawned", m.status)

	send(m, agent.Signal{Type: agent.SignalToolUse, Tool: "bash", ToolStatus: "running"})
	assert.Equal(t, "running bash", m.status)

	send(m,
		agent.Signal{Type: agent.SignalOutput, Text: "hello "},
		agent.Signal{Type: agent.SignalOutput, Text: "world"},
	)
	assert.Equal(t, "writing", m.status)

	view := m.View()
	assert.Contains(t, view, "#ops")
	assert.Contains(t, view, "bash")
	assert.Contains(t, view, "hello world")
}

func TestToolHistoryIsBounded(t *testing.T) {
	m := New("c", nil)
	for i := 0; i < maxTools+3; i++ {
		send(m, agent.Signal{Type: agent.SignalToolUse, Tool: string(rune('a' + i))})
	}
	require.Len(t, m.tools, maxTools)
	assert.Equal(t, "h", m.tools[len(m.tools)-1].name)
}

func TestViolationIsShown(t *testing.T) {
	m := New("c", nil)
	send(m, agent.Signal{Type: agent.SignalViolation, Message: "write /etc/hosts"})
	assert.Equal(t, "blocked", m.status)
	assert.Contains(t, m.View(), "write /etc/hosts")
}

func TestQuitCancelsRunningTurn(t *testing.T) {
	cancelled := false
	m := New("c", func() { cancelled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, cancelled)
	assert.Nil(t, cmd, "the view stays up until the turn settles")
	assert.Equal(t, "stopping", m.status)
}

func TestDoneQuits(t *testing.T) {
	m := New("c", nil)
	m.started = time.Now().Add(-3 * time.Second)
	want := errors.New("boom")

	_, cmd := m.Update(DoneMsg{Result: &agent.Result{Output: "x"}, Err: want})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	res, err := m.Result()
	assert.Equal(t, "x", res.Output)
	assert.Equal(t, want, err)
	assert.NotContains(t, m.View(), "q to stop")
}
