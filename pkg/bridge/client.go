package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"

	"github.com/grovetools/airlock/errors"
)

// Call sends req to the bridge at socket, copies stdout and stderr frames to
// the given writers and returns the remote exit code. An error frame is
// returned as a BRIDGE_REJECTED error.
func Call(ctx context.Context, socket string, req Request, stdout, stderr io.Writer) (int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return 1, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "connect to host bridge at "+socket)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return 1, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "send request")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var f Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		switch f.Type {
		case FrameStdout:
			_, _ = stdout.Write(f.Data)
		case FrameStderr:
			_, _ = stderr.Write(f.Data)
		case FrameExit:
			if f.Code == nil {
				return 1, nil
			}
			return *f.Code, nil
		case FrameError:
			return 1, errors.New(errors.ErrCodeBridgeRejected, f.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return 1, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "read response")
	}
	return 1, errors.New(errors.ErrCodeBridgeUnavailable, "host bridge closed the connection without an exit frame")
}

// Fetch sends a proxy_fetch request to the bridge at socket and returns the
// response frame. An error frame is returned as a BRIDGE_REJECTED error.
func Fetch(ctx context.Context, socket string, req Request) (*Frame, error) {
	req.Type = RequestFetch

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "connect to host bridge at "+socket)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "send request")
	}

	var f Frame
	if err := json.NewDecoder(conn).Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "read response")
	}
	switch f.Type {
	case FrameResponse:
		return &f, nil
	case FrameError:
		return nil, errors.New(errors.ErrCodeBridgeRejected, f.Message)
	default:
		return nil, errors.New(errors.ErrCodeBridgeUnavailable, "unexpected frame '"+string(f.Type)+"' from host bridge")
	}
}
