package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/internal/daemon/store"
	"github.com/grovetools/airlock/pkg/agent"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// settleGrace bounds how long RunTurn waits for trailing stream signals
// after the turn response arrives.
const settleGrace = 2 * time.Second

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	// turnClient has no timeout; a turn lasts as long as the agent runs.
	turnClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	if socketPath == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "daemon socket path is empty")
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &RemoteClient{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		turnClient: &http.Client{Transport: transport},
		socketPath: socketPath,
	}, nil
}

// Sessions returns the registry rows from the daemon.
func (c *RemoteClient) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunTurn posts a synchronous turn. When onSignal is set, a stream for the
// channel is opened first so signals arrive while the turn runs.
func (c *RemoteClient) RunTurn(ctx context.Context, req TurnRequest, onSignal func(agent.Signal)) (*agent.Result, error) {
	req.Async = false

	var streamDone chan struct{}
	if onSignal != nil {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		updates, err := c.Stream(streamCtx, req.Channel, false)
		if err == nil {
			streamDone = make(chan struct{})
			go func() {
				defer close(streamDone)
				for u := range updates {
					if u.Type == store.UpdateSignal && u.Signal != nil {
						onSignal(*u.Signal)
					}
					if u.Type == store.UpdateTurnSettled {
						return
					}
				}
			}()
		}
	}

	var resp TurnResponse
	if err := c.do(ctx, c.turnClient, http.MethodPost, "/api/turns", req, &resp); err != nil {
		return nil, err
	}

	if streamDone != nil {
		select {
		case <-streamDone:
		case <-time.After(settleGrace):
		}
	}

	if resp.Error != nil {
		return resp.Result, resp.Error
	}
	return resp.Result, nil
}

// RemoveSession deletes the channel's session on the daemon.
func (c *RemoteClient) RemoveSession(ctx context.Context, channel string, keepMapping bool) error {
	path := "/api/sessions/" + url.PathEscape(channel) + "?keep=" + strconv.FormatBool(keepMapping)
	return c.do(ctx, c.httpClient, http.MethodDelete, path, nil, nil)
}

// Bind records a folder binding on the daemon.
func (c *RemoteClient) Bind(ctx context.Context, channel, folder string) (string, error) {
	var out ValueResponse
	err := c.do(ctx, c.httpClient, http.MethodPost, sessionPath(channel, "bind"), BindRequest{Folder: folder}, &out)
	return out.Value, err
}

// Rebind points the channel at an existing session on the daemon.
func (c *RemoteClient) Rebind(ctx context.Context, channel, session string) (string, error) {
	var out ValueResponse
	err := c.do(ctx, c.httpClient, http.MethodPost, sessionPath(channel, "rebind"), RebindRequest{Session: session}, &out)
	return out.Value, err
}

// SetMode records the channel's behavioral profile on the daemon.
func (c *RemoteClient) SetMode(ctx context.Context, channel, mode string) error {
	return c.do(ctx, c.httpClient, http.MethodPost, sessionPath(channel, "mode"), ModeRequest{Mode: mode}, nil)
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stream subscribes to daemon updates over a websocket. The channel is
// closed when ctx is cancelled or the connection drops.
func (c *RemoteClient) Stream(ctx context.Context, channel string, replay bool) (<-chan Update, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socketPath)
		},
		HandshakeTimeout: 5 * time.Second,
	}

	q := url.Values{}
	if channel != "" {
		q.Set("channel", channel)
	}
	if replay {
		q.Set("replay", "true")
	}
	conn, resp, err := dialer.DialContext(ctx, "ws://unix/api/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "failed to connect to stream")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := make(chan Update, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()
		for {
			var u Update
			if err := conn.ReadJSON(&u); err != nil {
				return
			}
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RemoteClient) do(ctx context.Context, client *http.Client, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "daemon request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != nil {
			return e.Error
		}
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("daemon returned status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "decode daemon response")
	}
	return nil
}

func sessionPath(channel, action string) string {
	return "/api/sessions/" + url.PathEscape(channel) + "/" + action
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
