package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/airlock/command"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/policy"
	"github.com/sirupsen/logrus"
)

// requestTimeout bounds how long a client may take to send its request.
const requestTimeout = 30 * time.Second

// Options configures a Server.
type Options struct {
	SocketPath string
	SocketMode os.FileMode
	// WorkDir is used when the request cwd does not exist on the host.
	WorkDir string
	// AllowedCommands are bare executable names.
	AllowedCommands []string
	// DenyPatterns reject command lines by prefix, see policy.DeniedCommands.
	DenyPatterns []string
	// CredentialEnv is never taken from the caller. It is set to
	// Credential, or to the host's value when Credential is empty.
	CredentialEnv string
	Credential    string
	// FetchDomains are the hosts proxy_fetch may reach, in the policy's
	// domain syntax. Empty rejects every fetch.
	FetchDomains []string
	// HTTPClient performs fetches. The default follows redirects only to
	// allowed hosts.
	HTTPClient *http.Client
	// HostEnv defaults to os.Environ.
	HostEnv  func() []string
	Executor command.Executor
	Logger   *logrus.Entry
}

// Server accepts one Request per connection.
type Server struct {
	opts    Options
	builder *command.SafeBuilder
	logger  *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	cancel   context.CancelFunc
}

// NewServer creates a Server. Call Listen to start accepting.
func NewServer(opts Options) *Server {
	if opts.Executor == nil {
		opts.Executor = &command.RealExecutor{}
	}
	if opts.HostEnv == nil {
		opts.HostEnv = os.Environ
	}
	if opts.SocketMode == 0 {
		opts.SocketMode = 0o666
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newFetchClient(opts.FetchDomains)
	}
	if opts.WorkDir == "" {
		opts.WorkDir, _ = os.Getwd()
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}
	return &Server{
		opts:    opts,
		builder: command.NewSafeBuilderWithExecutor(opts.Executor, opts.AllowedCommands),
		logger:  opts.Logger.WithField("socket", opts.SocketPath),
	}
}

// Listen binds the socket and serves connections in the background until
// Close or ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	_ = os.Remove(s.opts.SocketPath)
	l, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "listen on "+s.opts.SocketPath)
	}
	// The sandboxed user must be able to connect.
	if err := os.Chmod(s.opts.SocketPath, s.opts.SocketMode); err != nil {
		l.Close()
		return errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "chmod "+s.opts.SocketPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = l
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go s.acceptLoop(ctx, l)

	s.logger.WithField("allowed", s.opts.AllowedCommands).Info("Host bridge listening")
	return nil
}

// Close stops accepting, waits for running commands and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.conns.Wait()
	_ = os.Remove(s.opts.SocketPath)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("Host bridge accept failed")
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer conn.Close()
			s.handle(ctx, conn)
		}()
	}
}

// handle reads the request, validates it and runs the command. Everything
// read from conn is untrusted.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	fw := newFrameWriter(conn)

	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.WithError(err).Warn("Host bridge received malformed request")
		_ = fw.write(Frame{Type: FrameError, Message: "malformed request"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch req.Type {
	case "":
	case RequestFetch:
		s.fetch(ctx, fw, req)
		return
	default:
		_ = fw.write(Frame{Type: FrameError, Message: "unknown request type '" + req.Type + "'"})
		return
	}

	logger := s.logger.WithField("command", req.Command).WithField("args", len(req.Args))

	if err := s.validate(req); err != nil {
		logger.WithError(err).Warn("Host bridge rejected request")
		_ = fw.write(Frame{Type: FrameError, Message: err.Error()})
		return
	}

	cmd, err := s.builder.Build(ctx, req.Command, req.Args...)
	if err != nil {
		_ = fw.write(Frame{Type: FrameError, Message: errors.BridgeRejected(req.Command, err.Error()).Error()})
		return
	}
	defer cmd.Release()

	c := cmd.Exec()
	c.Dir = s.resolveCwd(req.Cwd)
	c.Env = s.environment(req.Env)
	c.Stdout = streamWriter{fw: fw, typ: FrameStdout}
	c.Stderr = streamWriter{fw: fw, typ: FrameStderr}

	start := time.Now()
	runErr := c.Run()
	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			logger.WithError(runErr).Error("Host bridge failed to run command")
			_ = fw.write(Frame{Type: FrameError, Message: errors.CommandFailed(req.Command, runErr).Error()})
			return
		}
	}

	logger.WithFields(logrus.Fields{
		"exit_code": code,
		"cwd":       c.Dir,
		"duration":  time.Since(start).String(),
	}).Info("Host bridge command finished")
	_ = fw.write(Frame{Type: FrameExit, Code: &code})
}

func (s *Server) validate(req Request) error {
	if req.Command == "" {
		return errors.BridgeRejected(req.Command, "empty command")
	}
	if !s.builder.Allowed(req.Command) {
		return errors.BridgeRejected(req.Command, "not in allow-list")
	}
	line := strings.TrimSpace(req.Command + " " + strings.Join(req.Args, " "))
	if pattern, denied := policy.MatchDenied(s.opts.DenyPatterns, line); denied {
		return errors.BridgeRejected(req.Command, "matches denied pattern '"+pattern+"'")
	}
	for key := range req.Env {
		if err := s.builder.Validate("envKey", key); err != nil {
			return errors.BridgeRejected(req.Command, err.Error())
		}
	}
	return nil
}

// resolveCwd uses the requested directory only when it exists on the host.
func (s *Server) resolveCwd(cwd string) string {
	if cwd != "" {
		if info, err := os.Stat(cwd); err == nil && info.IsDir() {
			return cwd
		}
		s.logger.WithField("cwd", cwd).Debug("Requested cwd not on host, using bridge workdir")
	}
	return s.opts.WorkDir
}

// environment layers host, then caller, then the injected credential. The
// caller never chooses the credential: its value for CredentialEnv is
// dropped and replaced by Credential, or by the host's own value when no
// credential is configured.
func (s *Server) environment(requested map[string]string) []string {
	env := make(map[string]string)
	for _, kv := range s.opts.HostEnv() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	hostCred, hostHasCred := env[s.opts.CredentialEnv]
	for k, v := range requested {
		if s.opts.CredentialEnv != "" && k == s.opts.CredentialEnv {
			continue
		}
		env[k] = v
	}
	if s.opts.CredentialEnv != "" {
		switch {
		case s.opts.Credential != "":
			env[s.opts.CredentialEnv] = s.opts.Credential
		case hostHasCred:
			env[s.opts.CredentialEnv] = hostCred
		default:
			delete(env, s.opts.CredentialEnv)
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}
