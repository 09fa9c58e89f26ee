package stream

import (
	"encoding/json"
)

// Kind is the tag of an agent event.
type Kind string

const (
	KindStepStart  Kind = "step_start"
	KindStepFinish Kind = "step_finish"
	KindText       Kind = "text"
	KindToolUse    Kind = "tool_use"
	// KindUnknown covers every tag this package does not interpret.
	KindUnknown Kind = "unknown"
)

// ToolStatusFailed is the tool state reported when a tool call failed.
const ToolStatusFailed = "failed"

// Event is one decoded agent event. Only the fields of its Kind are set.
type Event struct {
	Kind Kind
	// Type is the raw tag, kept for logging unknown events.
	Type string
	// SessionID is set on any event that carries the agent's session identifier.
	SessionID string

	// Text is set for KindText.
	Text string

	// Reason is set for KindStepFinish ("stop" ends the turn).
	Reason string

	// Tool and ToolStatus are set for KindToolUse.
	Tool       string
	ToolStatus string
}

// Completes reports whether the event ends the turn.
func (e Event) Completes() bool {
	return e.Kind == KindStepFinish && e.Reason == "stop"
}

// ToolFailed reports whether a tool event carries a failed status.
func (e Event) ToolFailed() bool {
	return e.Kind == KindToolUse && e.ToolStatus == ToolStatusFailed
}

type rawState struct {
	Status string `json:"status"`
}

type rawPart struct {
	Type   string    `json:"type"`
	Text   *string   `json:"text"`
	Tool   string    `json:"tool"`
	Reason string    `json:"reason"`
	State  *rawState `json:"state"`

	SessionID string `json:"sessionID"`
}

type rawEvent struct {
	Type   string    `json:"type"`
	Text   *string   `json:"text"`
	Tool   string    `json:"tool"`
	Reason string    `json:"reason"`
	Status string    `json:"status"`
	Part   *rawPart  `json:"part"`
	State  *rawState `json:"state"`

	SessionIDUpper string `json:"sessionID"`
	SessionIDCamel string `json:"sessionId"`
	SessionIDSnake string `json:"session_id"`
}

// DecodeEvent converts a JSON document into an Event. It returns false only
// when the document is not a JSON object; unknown tags decode to KindUnknown.
func DecodeEvent(doc json.RawMessage) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(doc, &raw); err != nil {
		return Event{}, false
	}

	ev := Event{Type: raw.Type, SessionID: raw.sessionID()}

	switch raw.Type {
	case string(KindStepStart):
		ev.Kind = KindStepStart

	case string(KindStepFinish):
		ev.Kind = KindStepFinish
		ev.Reason = raw.Reason
		if raw.Part != nil && raw.Part.Reason != "" {
			ev.Reason = raw.Part.Reason
		}

	case string(KindText):
		ev.Kind = KindText
		switch {
		case raw.Part != nil && raw.Part.Text != nil:
			ev.Text = *raw.Part.Text
		case raw.Text != nil:
			ev.Text = *raw.Text
		}

	default:
		tool, status := raw.tool()
		if raw.Type == string(KindToolUse) || tool != "" {
			ev.Kind = KindToolUse
			ev.Tool = tool
			ev.ToolStatus = status
		} else {
			ev.Kind = KindUnknown
		}
	}
	return ev, true
}

func (r rawEvent) sessionID() string {
	for _, id := range []string{r.SessionIDUpper, r.SessionIDCamel, r.SessionIDSnake} {
		if id != "" {
			return id
		}
	}
	if r.Part != nil {
		return r.Part.SessionID
	}
	return ""
}

func (r rawEvent) tool() (name, status string) {
	name, status = r.Tool, r.Status
	if r.State != nil && r.State.Status != "" {
		status = r.State.Status
	}
	if r.Part != nil {
		if r.Part.Tool != "" {
			name = r.Part.Tool
		}
		if r.Part.State != nil && r.Part.State.Status != "" {
			status = r.Part.State.Status
		}
	}
	return name, status
}
