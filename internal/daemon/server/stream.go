package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/airlock/internal/daemon/store"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleStream upgrades to a websocket and pushes store updates as JSON
// text frames. With ?channel= only that channel's updates (plus daemon-wide
// ones) are sent; ?replay=true first sends the channel's recent history.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	replay, _ := strconv.ParseBool(r.URL.Query().Get("replay"))

	// Subscribed before the handshake completes so a client that starts a
	// turn right after connecting sees every signal.
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Stream upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.WithField("channel", channel)
	logger.Debug("Stream client connected")

	var replayedUntil time.Time
	if channel != "" && replay {
		for _, u := range s.store.Recent(channel) {
			if err := writeUpdate(conn, u); err != nil {
				return
			}
			replayedUntil = u.Time
		}
	}

	// The client never sends data; reading surfaces its close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("Stream client disconnected")
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case u, ok := <-ch:
			if !ok {
				return
			}
			if channel != "" && u.Channel != "" && u.Channel != channel {
				continue
			}
			if u.Channel != "" && !u.Time.After(replayedUntil) {
				continue
			}
			if err := writeUpdate(conn, u); err != nil {
				logger.WithError(err).Debug("Stream write failed")
				return
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, u store.Update) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(u)
}
