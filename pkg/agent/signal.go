package agent

import (
	"time"
)

// SignalType tags a turn-lifecycle signal.
type SignalType string

const (
	SignalSpawned   SignalType = "spawned"
	SignalThinking  SignalType = "thinking"
	SignalOutput    SignalType = "output"
	SignalToolUse   SignalType = "tool_use"
	SignalIdle      SignalType = "idle"
	SignalComplete  SignalType = "complete"
	SignalError     SignalType = "error"
	SignalHeartbeat SignalType = "heartbeat"
	SignalViolation SignalType = "sandbox_violation"
	SignalExit      SignalType = "exit"
	SignalSessionID SignalType = "session_id"
	SignalWarning   SignalType = "warning"
)

// Signal is one event delivered to Options.OnSignal. Fields not used by the
// signal's type are left zero.
type Signal struct {
	Type   SignalType `json:"type"`
	TurnID string     `json:"turnId"`
	Time   time.Time  `json:"time"`

	Text       string `json:"text,omitempty"`
	Tool       string `json:"tool,omitempty"`
	ToolStatus string `json:"toolStatus,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`

	// Message describes errors, warnings and the blocked action of a violation.
	Message string `json:"message,omitempty"`
	// ExitCode is set on SignalExit; -1 when the process was killed.
	ExitCode int `json:"exitCode,omitempty"`
	// Idle is set on SignalHeartbeat.
	Idle time.Duration `json:"idle,omitempty"`
	// StderrTail is attached to warnings about abnormal exits.
	StderrTail []string `json:"stderrTail,omitempty"`
}

// State is the driver's position in the turn state machine.
type State string

const (
	StateIdle     State = "idle"
	StateSpawned  State = "spawned"
	StateThinking State = "thinking"
	StateToolUse  State = "tool_use"
	StateError    State = "error"
	StateExited   State = "exited"
)

// Result summarizes a finished turn.
type Result struct {
	TurnID    string
	SessionID string
	// Output is the concatenated text of all output signals.
	Output       string
	Completed    bool
	Stopped      bool
	ExitCode     int
	ToolFailures []string
	StderrTail   []string
}
