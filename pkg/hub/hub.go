// Package hub fans change events out to every connected viewer.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/introspection"
	"github.com/google/uuid"

	"github.com/aretw0/docsync/pkg/core"
)

var (
	// ErrSlowConsumer ends a session whose outbound queue overflowed.
	ErrSlowConsumer = errors.New("session dropped: outbound queue full")
	// ErrClosed is returned by Join after Close.
	ErrClosed = errors.New("hub closed")
)

const (
	DefaultSendBuffer    = 64
	DefaultInboundBuffer = 256
)

// Hub owns the session registry and a single dispatch loop, so every
// session observes events in the order they were published.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	inbound    chan core.ChangeEvent
	sendBuffer int
	logger     *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once

	published atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSendBuffer sets the per-session queue capacity.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithInboundBuffer sets how many events may wait for the dispatch loop.
func WithInboundBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.inbound = make(chan core.ChangeEvent, n)
		}
	}
}

// New creates a hub. Run must be started for events to be delivered.
func New(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]*Session),
		inbound:    make(chan core.ChangeEvent, DefaultInboundBuffer),
		sendBuffer: DefaultSendBuffer,
		logger:     slog.New(slog.DiscardHandler),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers a new session.
func (h *Hub) Join() (*Session, error) {
	s := newSession(uuid.NewString(), h.sendBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return nil, ErrClosed
	default:
	}
	h.sessions[s.ID] = s
	h.logger.Debug("session joined", "session", s.ID, "sessions", len(h.sessions))
	return s, nil
}

// Leave unregisters s. Calling it more than once is harmless.
func (h *Hub) Leave(s *Session) {
	if s == nil {
		return
	}
	h.remove(s, nil)
}

func (h *Hub) remove(s *Session, reason error) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID]; ok && cur == s {
		delete(h.sessions, s.ID)
	}
	remaining := len(h.sessions)
	h.mu.Unlock()

	s.close(reason)
	h.logger.Debug("session left", "session", s.ID, "sessions", remaining, "reason", reason)
}

// Publish implements core.Publisher. It waits for room in the inbound queue
// and gives up only once the hub is closed.
func (h *Hub) Publish(ev core.ChangeEvent) {
	select {
	case h.inbound <- ev:
	case <-h.closed:
	}
}

// Run dispatches published events until ctx is cancelled or Close is called.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case <-h.closed:
			return nil
		case ev := <-h.inbound:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev core.ChangeEvent) {
	frame, err := NewMessage(ev).Encode()
	if err != nil {
		h.logger.Error("failed to encode change", "key", ev.Key().String(), "error", err)
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	snapshot := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		if !s.enqueue(frame) {
			h.dropped.Add(1)
			h.logger.Warn("dropping slow session", "session", s.ID)
			h.remove(s, ErrSlowConsumer)
		}
	}
}

// Close ends every session and stops Run.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.closed)
		sessions := h.sessions
		h.sessions = make(map[string]*Session)
		h.mu.Unlock()

		for _, s := range sessions {
			s.close(ErrClosed)
		}
	})
}

// HubState exposes internal state for observability.
type HubState struct {
	Sessions  int   `json:"sessions"`
	Pending   int   `json:"pending"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

// State implements introspection.Introspectable.
func (h *Hub) State() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubState{
		Sessions:  len(h.sessions),
		Pending:   len(h.inbound),
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// ComponentType implements introspection.Component.
func (h *Hub) ComponentType() string {
	return "hub"
}

var (
	_ core.Publisher               = (*Hub)(nil)
	_ introspection.Introspectable = (*Hub)(nil)
	_ introspection.Component      = (*Hub)(nil)
)
