// Package registry keeps the durable mapping between conversation channels,
// agent session identifiers, aliases and workspace folders.
//
// Every mutating call rewrites the whole snapshot file. Session identifiers
// are never invented here; they are recorded after the agent reports them.
package registry

import (
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/util/sanitize"
	"github.com/sirupsen/logrus"
)

// Options configures a Store.
type Options struct {
	// Path is the snapshot file. Empty keeps the registry in memory only.
	Path string
	// Prefix is carried by every agent session identifier (e.g. "ses_").
	Prefix string
	// Names is the alias pool. Defaults to AnimalNames.
	Names []string
	// Rand picks aliases. Defaults to a time-seeded source.
	Rand *rand.Rand
	// Logger defaults to a discarding logger.
	Logger *logrus.Entry
}

// ChannelInfo is a read-only view of one channel's state.
type ChannelInfo struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId,omitempty"`
	Alias     string `json:"alias,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Turns     int    `json:"turns"`
	Binding   string `json:"binding,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// Store is the session registry.
type Store struct {
	mu     sync.Mutex
	path   string
	prefix string
	names  []string
	rng    *rand.Rand
	logger *logrus.Entry

	rec Record
	// sessionAlias mirrors rec.Aliases in reverse; both change together in setAlias/dropAlias.
	sessionAlias map[string]string
}

// Open loads the registry from opts.Path, starting empty when the file is absent.
func Open(opts Options) (*Store, error) {
	if opts.Prefix == "" {
		opts.Prefix = "ses_"
	}
	if len(opts.Names) == 0 {
		opts.Names = AnimalNames
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}

	rec := newRecord()
	if opts.Path != "" {
		var err error
		if rec, err = readRecord(opts.Path); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(opts.Names))
	for _, name := range opts.Names {
		names = append(names, strings.ToLower(name))
	}

	s := &Store{
		path:         opts.Path,
		prefix:       opts.Prefix,
		names:        names,
		rng:          opts.Rand,
		logger:       opts.Logger,
		rec:          rec,
		sessionAlias: make(map[string]string, len(rec.Aliases)),
	}
	for alias, sessionID := range rec.Aliases {
		s.sessionAlias[sessionID] = alias
	}

	s.logger.WithField("path", opts.Path).
		WithField("channels", len(rec.Channels)).
		Debug("Session registry loaded")
	return s, nil
}

// Prefix returns the session identifier prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

// Resolve maps user input to a session identifier: a known alias wins, an
// input already carrying the prefix is returned as is, anything else gets
// the prefix added. It never fails.
func (s *Store) Resolve(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID, ok := s.rec.Aliases[strings.ToLower(input)]; ok {
		return sessionID
	}
	if strings.HasPrefix(input, s.prefix) {
		return input
	}
	return s.prefix + input
}

// BindChannelToFolder records a stable workspace folder for a channel.
func (s *Store) BindChannelToFolder(channel, name string) (string, error) {
	clean := sanitize.ForFolderName(name)
	if !sanitize.IsUsableFolderName(clean) {
		return "", errors.InvalidName(name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.Bindings[channel] = clean
	if err := s.persist(); err != nil {
		return "", err
	}
	s.logger.WithField("channel", channel).WithField("folder", clean).Info("Channel bound to folder")
	return clean, nil
}

// Binding returns the folder bound to a channel.
func (s *Store) Binding(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.rec.Bindings[channel]
	return folder, ok
}

// SessionFor returns the session identifier recorded for a channel.
func (s *Store) SessionFor(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rec.Channels[channel]
	return id, ok && id != ""
}

// SetSession records the identifier reported by the agent for a channel and
// gives it an alias. The session the channel leaves behind releases its
// alias once no channel refers to it.
func (s *Store) SetSession(channel, sessionID string) error {
	if sessionID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "session identifier cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.rec.Channels[channel]
	if previous == sessionID && s.sessionAlias[sessionID] != "" {
		return nil
	}
	s.rec.Channels[channel] = sessionID
	if previous != "" && previous != sessionID && !s.referenced(previous) {
		s.dropAlias(previous)
	}
	if _, ok := s.sessionAlias[sessionID]; !ok {
		s.assignAlias(sessionID)
	}
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.WithField("channel", channel).WithField("session", sessionID).Info("Session recorded")
	return nil
}

// Rebind points a channel at an existing session, resolving aliases.
func (s *Store) Rebind(channel, input string) (string, error) {
	sessionID := s.Resolve(input)
	if sessionID == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "session identifier cannot be empty")
	}
	if err := s.SetSession(channel, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// SetMode records the behavioral profile for a channel.
func (s *Store) SetMode(channel, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == "" {
		delete(s.rec.Types, channel)
	} else {
		s.rec.Types[channel] = mode
	}
	return s.persist()
}

// Mode returns the behavioral profile recorded for a channel.
func (s *Store) Mode(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Types[channel]
}

// IncrementTurns bumps and returns the channel's turn count.
func (s *Store) IncrementTurns(channel string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.SessionCounts[channel]++
	return s.rec.SessionCounts[channel], s.persist()
}

// TurnCount returns how many turns ran on a channel.
func (s *Store) TurnCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.SessionCounts[channel]
}

// GetAliasForSession returns the alias currently mapped to sessionID.
func (s *Store) GetAliasForSession(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alias, ok := s.sessionAlias[sessionID]
	return alias, ok
}

// GenerateAlias returns the session's alias, assigning one if needed.
// Unused pool names are preferred. Once the pool is exhausted a used name is
// taken over and its previous session loses its alias.
func (s *Store) GenerateAlias(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "session identifier cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if alias, ok := s.sessionAlias[sessionID]; ok {
		return alias, nil
	}
	alias := s.assignAlias(sessionID)
	return alias, s.persist()
}

// WorkspaceFor returns the workspace folder already used by a session.
func (s *Store) WorkspaceFor(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.rec.Workspaces[sessionID]
	return folder, ok
}

// SetWorkspace records the folder for a session the first time it is seen.
// A session keeps its first folder.
func (s *Store) SetWorkspace(sessionID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rec.Workspaces[sessionID]; ok && existing != "" {
		return nil
	}
	s.rec.Workspaces[sessionID] = folder
	return s.persist()
}

// RemoveChannel deletes the channel's session association, mode and turn
// count. The folder binding stays so a fresh session reuses the workspace.
// The alias is released once no channel refers to the session.
func (s *Store) RemoveChannel(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := s.rec.Channels[channel]
	delete(s.rec.Channels, channel)
	delete(s.rec.Types, channel)
	delete(s.rec.SessionCounts, channel)

	if sessionID != "" && !s.referenced(sessionID) {
		s.dropAlias(sessionID)
	}
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.WithField("channel", channel).WithField("session", sessionID).Info("Channel mapping removed")
	return nil
}

// Channels lists every channel the registry knows about, sorted by name.
func (s *Store) Channels() []ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for channel := range s.rec.Channels {
		seen[channel] = true
	}
	for channel := range s.rec.Bindings {
		seen[channel] = true
	}
	for channel := range s.rec.Types {
		seen[channel] = true
	}

	out := make([]ChannelInfo, 0, len(seen))
	for channel := range seen {
		sessionID := s.rec.Channels[channel]
		out = append(out, ChannelInfo{
			Channel:   channel,
			SessionID: sessionID,
			Alias:     s.sessionAlias[sessionID],
			Mode:      s.rec.Types[channel],
			Turns:     s.rec.SessionCounts[channel],
			Binding:   s.rec.Bindings[channel],
			Workspace: s.rec.Workspaces[sessionID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.clone()
}

func (s *Store) referenced(sessionID string) bool {
	for _, id := range s.rec.Channels {
		if id == sessionID {
			return true
		}
	}
	return false
}

// assignAlias must be called with the lock held.
func (s *Store) assignAlias(sessionID string) string {
	var unused []string
	for _, name := range s.names {
		if _, taken := s.rec.Aliases[name]; !taken {
			unused = append(unused, name)
		}
	}

	var alias string
	if len(unused) > 0 {
		alias = unused[s.rng.Intn(len(unused))]
	} else {
		alias = s.names[s.rng.Intn(len(s.names))]
		s.logger.WithField("alias", alias).Warn("Alias pool exhausted, reusing a name")
	}
	s.setAlias(alias, sessionID)
	return alias
}

// setAlias updates both directions together.
func (s *Store) setAlias(alias, sessionID string) {
	if previous, ok := s.rec.Aliases[alias]; ok {
		delete(s.sessionAlias, previous)
	}
	if old, ok := s.sessionAlias[sessionID]; ok {
		delete(s.rec.Aliases, old)
	}
	s.rec.Aliases[alias] = sessionID
	s.sessionAlias[sessionID] = alias
}

func (s *Store) dropAlias(sessionID string) {
	if alias, ok := s.sessionAlias[sessionID]; ok {
		delete(s.rec.Aliases, alias)
		delete(s.sessionAlias, sessionID)
	}
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	return writeRecord(s.path, s.rec)
}
