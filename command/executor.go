// Package command builds host subprocesses for the agent driver and the
// host bridge.
package command

import (
	"context"
	"os/exec"
	"sync"
)

// Executor creates exec.Cmd instances. The driver and bridge take one so
// tests can substitute fake binaries.
type Executor interface {
	Command(name string, args ...string) *exec.Cmd
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor uses os/exec directly.
type RealExecutor struct{}

// Command creates a standard exec.Cmd.
func (e *RealExecutor) Command(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// CommandContext creates a standard context-aware exec.Cmd.
func (e *RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// RecordingExecutor wraps another Executor and remembers every command name
// it was asked to create.
type RecordingExecutor struct {
	Next Executor

	mu    sync.Mutex
	calls []string
}

// Calls returns the recorded command names in order.
func (e *RecordingExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *RecordingExecutor) record(name string) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
}

// Command implements Executor.
func (e *RecordingExecutor) Command(name string, args ...string) *exec.Cmd {
	e.record(name)
	return e.next().Command(name, args...)
}

// CommandContext implements Executor.
func (e *RecordingExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	e.record(name)
	return e.next().CommandContext(ctx, name, args...)
}

func (e *RecordingExecutor) next() Executor {
	if e.Next == nil {
		return &RealExecutor{}
	}
	return e.Next
}
