package store

import (
	"testing"

	"github.com/grovetools/airlock/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	s := New()
	a := s.Subscribe()
	b := s.Subscribe()
	defer s.Unsubscribe(a)
	defer s.Unsubscribe(b)

	s.Publish(Update{Type: UpdateSignal, Channel: "c", Signal: &agent.Signal{Type: agent.SignalSpawned}})

	for _, ch := range []chan Update{a, b} {
		u := <-ch
		assert.Equal(t, UpdateSignal, u.Type)
		assert.Equal(t, "c", u.Channel)
		assert.False(t, u.Time.IsZero())
	}
}

func TestRecentIsBounded(t *testing.T) {
	s := New()
	for i := 0; i < RecentLimit+10; i++ {
		s.Publish(Update{Type: UpdateSignal, Channel: "c", Error: string(rune('a' + i%26))})
	}
	s.Publish(Update{Type: UpdateConfigReload, ConfigFile: "airlock.yml"})

	recent := s.Recent("c")
	require.Len(t, recent, RecentLimit)
	assert.Empty(t, s.Recent(""))

	s.Forget("c")
	assert.Empty(t, s.Recent("c"))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ch := s.Subscribe()
	for i := 0; i < 500; i++ {
		s.Publish(Update{Type: UpdateSignal, Channel: "c"})
	}
	assert.Len(t, ch, cap(ch))

	s.Unsubscribe(ch)
	s.Unsubscribe(ch)
	_, open := <-ch
	for open {
		_, open = <-ch
	}
}
