// Package server provides the HTTP API of the airlock daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/internal/daemon/store"
	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/daemon"
	"github.com/grovetools/airlock/pkg/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningConfig is exposed via /api/config so clients can verify what the
// daemon is actually using.
type RunningConfig struct {
	StartedAt  time.Time      `json:"started_at"`
	ConfigFile string         `json:"config_file,omitempty"`
	Config     *config.Config `json:"config"`
}

// Options configures a Server.
type Options struct {
	Manager    *session.Manager
	Store      *store.Store
	ConfigFile string
	Logger     *logrus.Entry
}

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger     *logrus.Entry
	server     *http.Server
	mgr        *session.Manager
	store      *store.Store
	configFile string
	startedAt  time.Time
	upgrader   websocket.Upgrader

	// ctx outlives individual requests; async turns run under it.
	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup
}

// New creates a new Server instance.
func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:     opts.Logger,
		mgr:        opts.Manager,
		store:      opts.Store,
		configFile: opts.ConfigFile,
		startedAt:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Reachable only through the owner-only Unix socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Store returns the update store the server publishes to.
func (s *Server) Store() *store.Store {
	return s.store
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("GET /api/sessions", s.handleGetSessions)
	mux.HandleFunc("DELETE /api/sessions/{channel}", s.handleRemoveSession)
	mux.HandleFunc("POST /api/sessions/{channel}/bind", s.handleBind)
	mux.HandleFunc("POST /api/sessions/{channel}/rebind", s.handleRebind)
	mux.HandleFunc("POST /api/sessions/{channel}/mode", s.handleMode)
	mux.HandleFunc("POST /api/turns", s.handleTurn)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{Handler: s.Handler()}
	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// Shutdown stops accepting requests, stops running async turns and waits
// for them to settle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Turns still running at shutdown")
	}
	return err
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RunningConfig{
		StartedAt:  s.startedAt,
		ConfigFile: s.configFile,
		Config:     s.mgr.Config(),
	})
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	channels := s.mgr.Registry().Channels()
	out := make([]daemon.SessionInfo, 0, len(channels))
	for _, info := range channels {
		out = append(out, daemon.SessionInfo{ChannelInfo: info, InFlight: s.mgr.InFlight(info.Channel)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	keep, _ := strconv.ParseBool(r.URL.Query().Get("keep"))

	if err := s.mgr.RemoveSession(channel, keep); err != nil {
		writeError(w, err)
		return
	}
	if !keep {
		s.store.Forget(channel)
	}
	s.store.Publish(store.Update{Type: store.UpdateSessionRemoved, Channel: channel})
	s.logger.WithField("channel", channel).WithField("keep_mapping", keep).Info("Session removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	var req daemon.BindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	folder, err := s.mgr.Bind(r.PathValue("channel"), req.Folder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daemon.ValueResponse{Value: folder})
}

func (s *Server) handleRebind(w http.ResponseWriter, r *http.Request) {
	var req daemon.RebindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.mgr.Rebind(r.PathValue("channel"), req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daemon.ValueResponse{Value: id})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req daemon.ModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.mgr.SetMode(r.PathValue("channel"), req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daemon.ValueResponse{Value: req.Mode})
}

// handleTurn runs one prompt. A synchronous turn is tied to the request and
// is stopped if the client goes away.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req daemon.TurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Channel == "" {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "channel is required"))
		return
	}
	if s.mgr.InFlight(req.Channel) {
		writeError(w, errors.TurnInFlight(req.Channel))
		return
	}

	if req.Async {
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.runTurn(s.ctx, req)
		}()
		writeJSON(w, http.StatusAccepted, daemon.TurnResponse{Channel: req.Channel})
		return
	}

	res, err := s.runTurn(r.Context(), req)
	if err != nil && !isTurnOutcome(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daemon.TurnResponse{
		Channel: req.Channel,
		Result:  res,
		Error:   daemon.AsAirlockError(err),
	})
}

func (s *Server) runTurn(ctx context.Context, req daemon.TurnRequest) (*agent.Result, error) {
	res, err := s.mgr.RunTurn(ctx, session.TurnRequest{
		Channel: req.Channel,
		Session: req.Session,
		Prompt:  req.Prompt,
		OnSignal: func(sig agent.Signal) {
			s.store.Publish(store.Update{Type: store.UpdateSignal, Channel: req.Channel, Signal: &sig})
		},
	})

	settled := store.Update{Type: store.UpdateTurnSettled, Channel: req.Channel, Result: res}
	if err != nil {
		settled.Error = err.Error()
		s.logger.WithError(err).WithField("channel", req.Channel).Warn("Turn failed")
	}
	s.store.Publish(settled)
	return res, err
}

// isTurnOutcome reports errors that describe how a turn ended rather than a
// request that could not be served.
func isTurnOutcome(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeSpawnFailed, errors.ErrCodeSandboxViolation, errors.ErrCodeAbnormalExit:
		return true
	}
	return false
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidName, errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeTurnInFlight:
		return http.StatusConflict
	case errors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case errors.ErrCodePermissionDenied:
		return http.StatusForbidden
	case errors.ErrCodeBridgeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), daemon.ErrorResponse{Error: daemon.AsAirlockError(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}
