// Package ws serves the live change channel over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/docsync/pkg/hub"
)

// Settings tunes connection timing.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingTimeout is the interval between keepalive pings.
	PingTimeout time.Duration
	// ReadTimeout must exceed PingTimeout; every pong extends it.
	ReadTimeout time.Duration
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingTimeout:      20 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// Server upgrades requests to WebSocket and streams hub frames to them.
type Server struct {
	hub      *hub.Hub
	settings *Settings
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a live channel server. Nil settings or logger select defaults.
func NewServer(h *hub.Hub, settings *Settings, logger *slog.Logger) *Server {
	if settings == nil {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		hub:      h,
		settings: settings,
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			// Viewers are served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Join before the upgrade so no change published after the handshake is missed.
	session, err := s.hub.Join()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Leave(session)
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer s.hub.Leave(session)

	s.logger.Info("viewer connected", "session", session.ID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		s.readLoop(conn, session)
	}()

	err = s.writeLoop(ctx, conn, session)
	s.logger.Info("viewer disconnected", "session", session.ID, "error", err)
}

// readLoop consumes viewer commands until the connection fails.
func (s *Server) readLoop(conn *websocket.Conn, session *hub.Session) {
	_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd hub.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.logger.Debug("ignoring malformed command", "session", session.ID, "error", err)
			continue
		}
		switch cmd.Type {
		case hub.CommandSubscribe:
			session.Subscribe(cmd.Keys...)
		case hub.CommandUnsubscribe:
			session.Unsubscribe(cmd.Keys...)
		default:
			s.logger.Debug("ignoring unknown command", "session", session.ID, "type", cmd.Type)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, session *hub.Session) error {
	ping := time.NewTicker(s.settings.PingTimeout)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-session.Done():
			reason := session.Err()
			code := websocket.CloseGoingAway
			if errors.Is(reason, hub.ErrSlowConsumer) {
				code = websocket.CloseTryAgainLater
			}
			text := ""
			if reason != nil {
				text = reason.Error()
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(s.settings.WriteTimeout))
			return reason

		case frame := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				// a write deadline timeout leaves the connection unusable
				return err
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.settings.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}
