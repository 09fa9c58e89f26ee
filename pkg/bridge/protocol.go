// Package bridge is the Secure Host Bridge: a Unix socket server inside each
// workspace that runs a small allow-list of host commands on behalf of the
// sandboxed agent with a session-scoped credential injected.
//
// Wire protocol: the client writes one JSON Request. For a command the
// server replies with newline-delimited JSON frames: any number of
// stdout/stderr frames and then exactly one exit frame, or exactly one error
// frame. A proxy_fetch request gets exactly one response or error frame.
package bridge

import (
	"encoding/json"
	"io"
	"sync"
)

// RequestFetch marks a Request as an outbound HTTP fetch. Requests without
// a type run a command.
const RequestFetch = "proxy_fetch"

// Request asks the bridge to run one command, or to perform one HTTP fetch
// when Type is RequestFetch.
type Request struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Body is base64 encoded on the wire.
	Body []byte `json:"body,omitempty"`
}

// FrameType tags a response frame.
type FrameType string

const (
	FrameStdout FrameType = "stdout"
	FrameStderr FrameType = "stderr"
	FrameExit     FrameType = "exit"
	FrameError    FrameType = "error"
	FrameResponse FrameType = "response"
)

// Frame is one response line. Data and Body are base64 encoded on the wire.
type Frame struct {
	Type    FrameType `json:"type"`
	Data    []byte    `json:"data,omitempty"`
	Code    *int      `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`

	// Set on response frames.
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// frameWriter serializes frames from the stdout and stderr pumps.
type frameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{enc: json.NewEncoder(w)}
}

func (fw *frameWriter) write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.enc.Encode(f)
}

// streamWriter turns writes into frames of one type.
type streamWriter struct {
	fw  *frameWriter
	typ FrameType
}

func (sw streamWriter) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	if err := sw.fw.write(Frame{Type: sw.typ, Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}
