// Package agent drives one agent executable process per conversational
// turn and turns its event stream into lifecycle signals.
package agent

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/airlock/command"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/agent/stream"
	"github.com/grovetools/airlock/pkg/process"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultHeartbeat is the inactivity threshold before a heartbeat signal.
	DefaultHeartbeat = 20 * time.Second

	stderrTailLines = 20
	readChunkSize   = 32 * 1024
)

// Options configures a Driver. A Driver is bound to one workspace and one
// session identifier (which may start empty).
type Options struct {
	// Binary is the agent executable.
	Binary string
	// Mode is passed as --agent when set.
	Mode string
	// SessionID is passed as --session when set.
	SessionID string
	// Dir is the working directory of the agent (the workspace).
	Dir string
	// Env is the complete child environment, normally from BuildEnv.
	Env []string

	// LaunchScript, when set, is exec'd with the real invocation as arguments.
	LaunchScript string
	// Sandbox wraps the invocation in SandboxExecutor and turns on
	// violation detection.
	Sandbox         bool
	SandboxExecutor string
	PolicyFile      string

	// ParseMode is "lines" (default) or "braces".
	ParseMode string
	// Heartbeat is the inactivity threshold. Zero uses DefaultHeartbeat.
	Heartbeat time.Duration

	// BeforeLaunch runs before every spawn; the policy file is regenerated here.
	BeforeLaunch func() error
	// OnSignal receives every signal in order. It is called from the
	// driver's reader goroutines and must not block for long.
	OnSignal func(Signal)

	Executor command.Executor
	Logger   *logrus.Entry
}

// Driver runs turns. It keeps no process handle between turns; only the
// session identifier carries over.
type Driver struct {
	opts   Options
	logger *logrus.Entry

	mu        sync.Mutex
	state     State
	sessionID string
	// Set only while a turn is running.
	proc    *exec.Cmd
	cancel  context.CancelFunc
	stopped bool

	// emitMu orders signals and fences stdout processing after a violation.
	emitMu   sync.Mutex
	violated bool
}

// New creates a Driver.
func New(opts Options) *Driver {
	if opts.Executor == nil {
		opts.Executor = &command.RealExecutor{}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}
	return &Driver{
		opts:      opts,
		logger:    opts.Logger,
		state:     StateIdle,
		sessionID: opts.SessionID,
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SessionID returns the identifier the next turn will resume.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Invocation returns the program and arguments for a turn.
func (d *Driver) Invocation(prompt string) (string, []string) {
	args := []string{"run", "--format", "json"}
	if id := d.SessionID(); id != "" {
		args = append(args, "--session", id)
	}
	if d.opts.Mode != "" {
		args = append(args, "--agent", d.opts.Mode)
	}
	if prompt != "" {
		args = append(args, "--", prompt)
	}

	argv := append([]string{d.opts.Binary}, args...)
	if d.opts.Sandbox {
		argv = append([]string{d.opts.SandboxExecutor, "--settings", d.opts.PolicyFile, "--"}, argv...)
	}
	if d.opts.LaunchScript != "" {
		return d.opts.LaunchScript, argv
	}
	return argv[0], argv[1:]
}

// Stop kills the running turn and stops its heartbeat. Called before the
// spawn, it makes the pending Run return stopped without starting anything.
// It returns without waiting for the child to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.killLocked()
	if d.cancel != nil {
		d.cancel()
	}
}

// Run executes one turn and blocks until the process exits. Spawn failures
// and sandbox violations are both signalled and returned.
func (d *Driver) Run(ctx context.Context, prompt string) (*Result, error) {
	turnID := uuid.NewString()
	logger := d.logger.WithField("turn", turnID)
	res := &Result{TurnID: turnID}

	// A Stop that lands before the spawn cancels this turn; the flag is
	// cleared once the turn settles.
	defer func() {
		d.mu.Lock()
		d.stopped = false
		d.mu.Unlock()
	}()

	if d.opts.BeforeLaunch != nil {
		if err := d.opts.BeforeLaunch(); err != nil {
			d.emit(Signal{Type: SignalError, TurnID: turnID, Message: err.Error()})
			return res, err
		}
	}

	if d.stoppedBeforeSpawn(ctx) {
		res.Stopped = true
		d.setState(StateExited)
		logger.Info("Agent turn stopped before spawn")
		d.emit(Signal{Type: SignalExit, TurnID: turnID, ExitCode: -1})
		return res, nil
	}

	name, args := d.Invocation(prompt)
	cmd := d.opts.Executor.Command(name, args...)
	cmd.Dir = d.opts.Dir
	cmd.Env = d.opts.Env
	// Own process group so a kill also reaches the launch script's relay.
	process.NewGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, d.spawnFailed(turnID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, d.spawnFailed(turnID, err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.emitMu.Lock()
	d.violated = false
	d.emitMu.Unlock()

	// Start under mu so a Stop racing the spawn still finds the process.
	d.mu.Lock()
	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return res, d.spawnFailed(turnID, err)
	}
	d.proc = cmd
	d.cancel = cancel
	d.state = StateSpawned
	if d.stopped {
		d.killLocked()
	}
	d.mu.Unlock()

	logger.WithField("pid", cmd.Process.Pid).WithField("session", d.SessionID()).Info("Agent turn started")
	d.emit(Signal{Type: SignalSpawned, TurnID: turnID, SessionID: d.SessionID()})

	t := &turn{
		d:       d,
		id:      turnID,
		res:     res,
		logger:  logger,
		decoder: stream.NewDecoder(d.opts.ParseMode),
		stderr:  newTail(stderrTailLines),
	}
	t.touch()

	go func() {
		<-turnCtx.Done()
		d.mu.Lock()
		d.killLocked()
		d.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.readStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		t.readStderr(stderr)
	}()
	go t.heartbeat(turnCtx, d.opts.Heartbeat)

	wg.Wait()
	waitErr := cmd.Wait()
	// Whatever the launch script left running (the relay) dies with the turn.
	_ = process.KillGroup(cmd)

	d.mu.Lock()
	d.proc = nil
	d.cancel = nil
	stopped := d.stopped || ctx.Err() != nil
	d.mu.Unlock()
	cancel()

	d.emitMu.Lock()
	violated := d.violated
	d.emitMu.Unlock()

	if !violated {
		for _, doc := range t.decoder.Flush() {
			t.handle(doc)
		}
	}

	code := exitCode(cmd, waitErr)
	res.ExitCode = code
	res.Stopped = stopped
	res.SessionID = d.SessionID()
	res.StderrTail = t.stderrTail()

	switch {
	case violated:
		d.setState(StateError)
		d.emit(Signal{Type: SignalExit, TurnID: turnID, ExitCode: code})
		logger.WithField("blocked", t.blocked).Warn("Agent turn killed after sandbox violation")
		return res, errors.SandboxViolation(t.blocked)

	case stopped:
		d.setState(StateExited)
		d.emit(Signal{Type: SignalExit, TurnID: turnID, ExitCode: code})
		logger.Info("Agent turn stopped")
		return res, nil

	case code != 0:
		d.setState(StateExited)
		d.emit(Signal{
			Type:       SignalWarning,
			TurnID:     turnID,
			ExitCode:   code,
			Message:    errors.AbnormalExit(code, res.StderrTail).Error(),
			StderrTail: res.StderrTail,
		})
		d.emit(Signal{Type: SignalExit, TurnID: turnID, ExitCode: code})
		logger.WithField("exit_code", code).Warn("Agent exited abnormally")
		return res, nil
	}

	d.setState(StateIdle)
	d.emit(Signal{Type: SignalExit, TurnID: turnID, ExitCode: code})
	logger.WithField("completed", res.Completed).Info("Agent turn finished")
	return res, nil
}

func (d *Driver) stoppedBeforeSpawn(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped || ctx.Err() != nil
}

func (d *Driver) spawnFailed(turnID string, cause error) error {
	err := errors.SpawnFailed(d.opts.Binary, cause)
	d.setState(StateError)
	d.emit(Signal{Type: SignalError, TurnID: turnID, Message: err.Error()})
	d.logger.WithError(cause).WithField("turn", turnID).Error("Failed to spawn agent")
	return err
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// killLocked kills the running process group. Caller holds d.mu.
func (d *Driver) killLocked() {
	if d.proc == nil || d.proc.Process == nil {
		return
	}
	if err := process.KillGroup(d.proc); err != nil {
		d.logger.WithError(err).Debug("Kill after exit")
	}
}

func (d *Driver) emit(s Signal) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.emitLocked(s)
}

func (d *Driver) emitLocked(s Signal) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	if d.opts.OnSignal != nil {
		d.opts.OnSignal(s)
	}
}

// turn holds the per-turn resources: parser, activity clock, stderr tail.
type turn struct {
	d       *Driver
	id      string
	res     *Result
	logger  *logrus.Entry
	decoder stream.Decoder

	mu      sync.Mutex
	last    time.Time
	stderr  *tail
	blocked string
}

func (t *turn) touch() {
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
}

func (t *turn) idle() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.last)
}

func (t *turn) stderrTail() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stderr.snapshot()
}

func (t *turn) readStdout(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.touch()
			for _, doc := range t.decoder.Feed(buf[:n]) {
				if !t.handle(doc) {
					// Drain so the child never blocks on a full pipe.
					_, _ = io.Copy(io.Discard, r)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *turn) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.touch()
		line := scanner.Text()

		t.mu.Lock()
		t.stderr.add(line)
		t.mu.Unlock()

		if t.d.opts.Sandbox && DetectViolation(line) {
			t.violation(line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// violation kills the child and signals. Later stdout events are dropped.
func (t *turn) violation(line string) {
	d := t.d
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	if d.violated {
		return
	}
	d.violated = true

	d.mu.Lock()
	d.killLocked()
	d.mu.Unlock()

	t.mu.Lock()
	t.blocked = strings.TrimSpace(line)
	t.mu.Unlock()

	t.logger.WithField("blocked", t.blocked).Warn("Sandbox violation detected")
	d.emitLocked(Signal{Type: SignalViolation, TurnID: t.id, Message: t.blocked})
}

// handle processes one document and reports whether stdout processing
// should continue.
func (t *turn) handle(doc []byte) bool {
	ev, ok := stream.DecodeEvent(doc)
	if !ok {
		return true
	}

	d := t.d
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	if d.violated {
		return false
	}

	if ev.SessionID != "" {
		d.mu.Lock()
		changed := d.sessionID != ev.SessionID
		d.sessionID = ev.SessionID
		d.mu.Unlock()
		if changed {
			t.logger.WithField("session", ev.SessionID).Info("Agent reported session identifier")
			d.emitLocked(Signal{Type: SignalSessionID, TurnID: t.id, SessionID: ev.SessionID})
		}
	}

	switch ev.Kind {
	case stream.KindStepStart:
		d.setState(StateThinking)
		d.emitLocked(Signal{Type: SignalThinking, TurnID: t.id})

	case stream.KindStepFinish:
		d.setState(StateIdle)
		d.emitLocked(Signal{Type: SignalIdle, TurnID: t.id})
		if ev.Completes() {
			t.res.Completed = true
			d.emitLocked(Signal{Type: SignalComplete, TurnID: t.id})
		}

	case stream.KindText:
		if ev.Text == "" {
			break
		}
		t.res.Output += ev.Text
		d.emitLocked(Signal{Type: SignalOutput, TurnID: t.id, Text: ev.Text})

	case stream.KindToolUse:
		d.setState(StateToolUse)
		d.emitLocked(Signal{Type: SignalToolUse, TurnID: t.id, Tool: ev.Tool, ToolStatus: ev.ToolStatus})
		if ev.ToolFailed() {
			t.res.ToolFailures = append(t.res.ToolFailures, ev.Tool)
			d.emitLocked(Signal{Type: SignalError, TurnID: t.id, Tool: ev.Tool, Message: "tool " + ev.Tool + " failed"})
		}

	default:
		t.logger.WithField("event_type", ev.Type).Debug("Ignoring unrecognized agent event")
	}
	return true
}

// heartbeat is advisory: it signals inactivity and never kills the turn.
func (t *turn) heartbeat(ctx context.Context, threshold time.Duration) {
	ticker := time.NewTicker(threshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if idle := t.idle(); idle >= threshold {
				t.d.emit(Signal{Type: SignalHeartbeat, TurnID: t.id, Idle: idle})
			}
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
