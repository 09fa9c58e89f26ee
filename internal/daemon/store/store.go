package store

import (
	"sync"
	"time"
)

// RecentLimit is how many updates are kept per channel for late subscribers.
const RecentLimit = 64

// Store is thread-safe and supports pub/sub for real-time updates.
type Store struct {
	mu          sync.RWMutex
	recent      map[string][]Update
	subscribers map[chan Update]struct{}
}

// New creates a new Store instance.
func New() *Store {
	return &Store{
		recent:      make(map[string][]Update),
		subscribers: make(map[chan Update]struct{}),
	}
}

// Publish records u and hands it to every subscriber.
func (s *Store) Publish(u Update) {
	if u.Time.IsZero() {
		u.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Channel != "" {
		buf := append(s.recent[u.Channel], u)
		if len(buf) > RecentLimit {
			buf = buf[len(buf)-RecentLimit:]
		}
		s.recent[u.Channel] = buf
	}

	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// A slow client must not stall a turn.
		}
	}
}

// Recent returns the buffered updates for channel, oldest first.
func (s *Store) Recent(channel string) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Update(nil), s.recent[channel]...)
}

// Forget drops the buffered updates for channel.
func (s *Store) Forget(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recent, channel)
}

// Subscribe creates a new subscription channel.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 100)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}

// BroadcastConfigReload notifies subscribers that file was reloaded.
func (s *Store) BroadcastConfigReload(file string) {
	s.Publish(Update{Type: UpdateConfigReload, ConfigFile: file})
}
