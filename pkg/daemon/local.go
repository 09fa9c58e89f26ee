package daemon

import (
	"context"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/session"
)

// LocalClient implements Client by calling a session.Manager directly.
// It is used when the daemon is not running.
type LocalClient struct {
	mgr *session.Manager
}

// NewLocalClient wraps mgr.
func NewLocalClient(mgr *session.Manager) *LocalClient {
	return &LocalClient{mgr: mgr}
}

// Manager exposes the wrapped manager.
func (c *LocalClient) Manager() *session.Manager {
	return c.mgr
}

func (c *LocalClient) Sessions(ctx context.Context) ([]SessionInfo, error) {
	channels := c.mgr.Registry().Channels()
	out := make([]SessionInfo, 0, len(channels))
	for _, info := range channels {
		out = append(out, SessionInfo{ChannelInfo: info, InFlight: c.mgr.InFlight(info.Channel)})
	}
	return out, nil
}

func (c *LocalClient) RunTurn(ctx context.Context, req TurnRequest, onSignal func(agent.Signal)) (*agent.Result, error) {
	return c.mgr.RunTurn(ctx, session.TurnRequest{
		Channel:  req.Channel,
		Session:  req.Session,
		Prompt:   req.Prompt,
		OnSignal: onSignal,
	})
}

func (c *LocalClient) RemoveSession(ctx context.Context, channel string, keepMapping bool) error {
	return c.mgr.RemoveSession(channel, keepMapping)
}

func (c *LocalClient) Bind(ctx context.Context, channel, folder string) (string, error) {
	return c.mgr.Bind(channel, folder)
}

func (c *LocalClient) Rebind(ctx context.Context, channel, sessionInput string) (string, error) {
	return c.mgr.Rebind(channel, sessionInput)
}

func (c *LocalClient) SetMode(ctx context.Context, channel, mode string) error {
	return c.mgr.SetMode(channel, mode)
}

// Stream returns an error; streaming needs the daemon.
func (c *LocalClient) Stream(ctx context.Context, channel string, replay bool) (<-chan Update, error) {
	return nil, errors.New(errors.ErrCodeBridgeUnavailable, "streaming not available in local mode; start airlock serve")
}

// IsRunning returns false since this is the local fallback client.
func (c *LocalClient) IsRunning() bool {
	return false
}

// Close stops running turns and host services.
func (c *LocalClient) Close() error {
	return c.mgr.Close()
}

// Ensure LocalClient implements Client interface.
var _ Client = (*LocalClient)(nil)
