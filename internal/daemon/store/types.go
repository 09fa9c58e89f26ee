// Package store is the daemon's in-memory fan-out of turn activity.
package store

import (
	"time"

	"github.com/grovetools/airlock/pkg/agent"
)

// UpdateType defines what kind of activity an Update reports.
type UpdateType string

const (
	UpdateSignal         UpdateType = "signal"
	UpdateTurnSettled    UpdateType = "turn_settled"
	UpdateSessionRemoved UpdateType = "session_removed"
	UpdateConfigReload   UpdateType = "config_reload"
)

// Update is one message on the stream. Channel is empty for daemon-wide
// updates such as a config reload.
type Update struct {
	Type       UpdateType    `json:"update_type"`
	Channel    string        `json:"channel,omitempty"`
	Signal     *agent.Signal `json:"signal,omitempty"`
	Result     *agent.Result `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	ConfigFile string        `json:"config_file,omitempty"`
	Time       time.Time     `json:"time"`
}
