package hub

import (
	"slices"
	"sync"
)

// Session is one connected viewer. Frames for it are queued on a bounded
// channel drained by the transport; a session that falls behind is dropped.
type Session struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	err  error
	keys map[string]struct{}
}

func newSession(id string, buffer int) *Session {
	return &Session{
		ID:   id,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		keys: make(map[string]struct{}),
	}
}

// Outbound yields encoded frames in publish order. It is never closed; use Done.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the session leaves or is dropped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe records keys the viewer is displaying.
func (s *Session) Subscribe(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
}

// Unsubscribe forgets displayed keys.
func (s *Session) Unsubscribe(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.keys, k)
	}
}

// Keys returns the displayed keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// enqueue never blocks. It returns false when the queue is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
