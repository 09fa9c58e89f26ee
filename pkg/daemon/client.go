// Package daemon is the client side of the airlock daemon. When airlock
// serve is running, administration and turns go through its HTTP API so the
// registry has a single writer; otherwise the same calls run in-process.
package daemon

import (
	"context"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/internal/daemon/store"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/registry"
)

// Client is implemented by RemoteClient (daemon API) and LocalClient
// (direct calls on a session.Manager).
type Client interface {
	// Sessions lists every channel the registry knows about.
	Sessions(ctx context.Context) ([]SessionInfo, error)

	// RunTurn runs one prompt and waits for it to settle. Signals are
	// delivered to onSignal while the turn runs when it is non-nil.
	RunTurn(ctx context.Context, req TurnRequest, onSignal func(agent.Signal)) (*agent.Result, error)

	// RemoveSession stops the channel's turn and, unless keepMapping is set,
	// forgets its session.
	RemoveSession(ctx context.Context, channel string, keepMapping bool) error

	Bind(ctx context.Context, channel, folder string) (string, error)
	Rebind(ctx context.Context, channel, session string) (string, error)
	SetMode(ctx context.Context, channel, mode string) error

	// Stream subscribes to daemon updates, optionally for one channel and
	// starting with its recent history.
	Stream(ctx context.Context, channel string, replay bool) (<-chan Update, error)

	// IsRunning reports whether a daemon answers on the socket.
	IsRunning() bool

	Close() error
}

// Update is one message on the daemon stream.
type Update = store.Update

// TurnRequest is the body of POST /api/turns.
type TurnRequest struct {
	Channel string `json:"channel"`
	Session string `json:"session,omitempty"`
	Prompt  string `json:"prompt"`
	// Async returns 202 immediately; the outcome arrives on the stream.
	Async bool `json:"async,omitempty"`
}

// TurnResponse reports a settled turn. Error carries turn outcomes such as a
// sandbox violation; the HTTP status is still 200 because the turn ran.
type TurnResponse struct {
	Channel string               `json:"channel"`
	Result  *agent.Result        `json:"result,omitempty"`
	Error   *errors.AirlockError `json:"error,omitempty"`
}

// SessionInfo is a registry row plus live state.
type SessionInfo struct {
	registry.ChannelInfo
	InFlight bool `json:"in_flight"`
}

// BindRequest is the body of POST /api/sessions/{channel}/bind.
type BindRequest struct {
	Folder string `json:"folder"`
}

// RebindRequest is the body of POST /api/sessions/{channel}/rebind.
type RebindRequest struct {
	Session string `json:"session"`
}

// ModeRequest is the body of POST /api/sessions/{channel}/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ValueResponse carries the resolved folder or session identifier.
type ValueResponse struct {
	Value string `json:"value"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error *errors.AirlockError `json:"error"`
}

// AsAirlockError converts any error to the wire form.
func AsAirlockError(err error) *errors.AirlockError {
	if err == nil {
		return nil
	}
	var ae *errors.AirlockError
	if errors.As(err, &ae) {
		return ae
	}
	return errors.Wrap(err, errors.ErrCodeInternal, err.Error())
}
