// Package client keeps a viewer's open documents in step with the server
// without ever overwriting the user's unsaved edits.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/hub"
)

var (
	// ErrConnectionLost marks the end of a live connection. It triggers a reconnect and is never fatal.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotOpen is returned for operations on a document that was not opened.
	ErrNotOpen = errors.New("document not open")
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

// Fetcher is the request/response side of the server.
type Fetcher interface {
	Get(ctx context.Context, namespace, name string) (any, error)
	Create(ctx context.Context, namespace, name string, data any) error
	Update(ctx context.Context, namespace, name string, data any) error
}

// Conn is a live channel connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens live channel connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ConnState is the state of the live channel.
type ConnState int

const (
	Connecting ConnState = iota
	Open
	Reconnecting
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithReconnectDelay sets the wait between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStateChange registers a callback for connection state transitions.
func WithStateChange(fn func(ConnState)) Option {
	return func(r *Reconciler) { r.onStateChange = fn }
}

// WithChange registers a callback invoked whenever the view of a key may have changed.
func WithChange(fn func(core.Key)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// Reconciler owns the EditBuffers of a viewer and the live connection feeding them.
type Reconciler struct {
	fetcher Fetcher
	delay   time.Duration
	logger  *slog.Logger

	onStateChange func(ConnState)
	onChange      func(core.Key)

	mu      sync.Mutex
	buffers map[core.Key]*EditBuffer
	state   ConnState
}

// New creates a reconciler backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		fetcher: fetcher,
		delay:   DefaultReconnectDelay,
		logger:  slog.New(slog.DiscardHandler),
		buffers: make(map[core.Key]*EditBuffer),
		state:   Closed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open fetches a document and starts tracking it. Opening a key that is
// already open refreshes its server version and keeps any draft.
func (r *Reconciler) Open(ctx context.Context, namespace, name string) (View, error) {
	k := core.Key{Namespace: namespace, Name: name}
	data, err := r.fetcher.Get(ctx, namespace, name)
	if err != nil {
		return View{}, err
	}

	r.mu.Lock()
	b, ok := r.buffers[k]
	if !ok {
		b = &EditBuffer{Key: k, State: Clean}
		r.buffers[k] = b
	}
	b.ServerVersion = data
	b.DeletedUpstream = false
	v := b.view()
	r.mu.Unlock()

	r.changed(k)
	return v, nil
}

// Edit replaces the local draft.
func (r *Reconciler) Edit(namespace, name string, draft any) error {
	k := core.Key{Namespace: namespace, Name: name}
	r.mu.Lock()
	b, ok := r.buffers[k]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", k, ErrNotOpen)
	}
	b.LocalDraft = draft
	b.HasDraft = true
	b.revision++
	if b.State == Clean {
		b.State = Dirty
	}
	r.mu.Unlock()

	r.changed(k)
	return nil
}

// Save sends the draft to the server. A draft whose document was deleted
// upstream is re-created. On failure the buffer returns to Dirty with the
// draft intact; edits made while saving keep the buffer Dirty.
func (r *Reconciler) Save(ctx context.Context, namespace, name string) error {
	k := core.Key{Namespace: namespace, Name: name}

	r.mu.Lock()
	b, ok := r.buffers[k]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", k, ErrNotOpen)
	}
	if b.State != Dirty {
		r.mu.Unlock()
		return nil
	}
	b.State = Saving
	draft, rev, recreate := b.LocalDraft, b.revision, b.DeletedUpstream
	r.mu.Unlock()
	r.changed(k)

	var err error
	if recreate {
		err = r.fetcher.Create(ctx, namespace, name, draft)
	} else {
		err = r.fetcher.Update(ctx, namespace, name, draft)
	}

	r.mu.Lock()
	b, ok = r.buffers[k]
	if !ok {
		// closed while saving
		r.mu.Unlock()
		return err
	}
	switch {
	case err != nil:
		b.State = Dirty
	case b.revision == rev:
		b.ServerVersion = draft
		b.LocalDraft = nil
		b.HasDraft = false
		b.DeletedUpstream = false
		b.State = Clean
	default:
		b.ServerVersion = draft
		b.DeletedUpstream = false
		b.State = Dirty
	}
	r.mu.Unlock()

	r.changed(k)
	if err != nil {
		r.logger.Warn("save failed", "key", k.String(), "error", err)
	}
	return err
}

// Discard drops the draft. A document deleted upstream is closed.
func (r *Reconciler) Discard(namespace, name string) {
	k := core.Key{Namespace: namespace, Name: name}
	r.mu.Lock()
	b, ok := r.buffers[k]
	if ok {
		if b.DeletedUpstream {
			delete(r.buffers, k)
		} else {
			b.LocalDraft = nil
			b.HasDraft = false
			b.State = Clean
		}
	}
	r.mu.Unlock()
	if ok {
		r.changed(k)
	}
}

// Close stops tracking a document, discarding any draft.
func (r *Reconciler) Close(namespace, name string) {
	k := core.Key{Namespace: namespace, Name: name}
	r.mu.Lock()
	delete(r.buffers, k)
	r.mu.Unlock()
}

// View returns the current view of a document.
func (r *Reconciler) View(namespace, name string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[core.Key{Namespace: namespace, Name: name}]
	if !ok {
		return View{}, false
	}
	return b.view(), true
}

// Keys returns the open documents.
func (r *Reconciler) Keys() []core.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]core.Key, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b core.Key) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys
}

// Apply folds a pushed change into the matching buffer. Changes to
// documents that are not open are ignored.
func (r *Reconciler) Apply(msg hub.Message) {
	switch msg.Type {
	case hub.TypeFileUpdate:
		r.applyUpdate(msg.Key(), msg.Data)
	case hub.TypeFileDelete:
		r.applyDelete(msg.Key())
	default:
		r.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (r *Reconciler) applyUpdate(k core.Key, data any) {
	r.mu.Lock()
	b, ok := r.buffers[k]
	if ok {
		b.ServerVersion = data
		b.DeletedUpstream = false
	}
	r.mu.Unlock()
	if ok {
		r.changed(k)
	}
}

func (r *Reconciler) applyDelete(k core.Key) {
	r.mu.Lock()
	b, ok := r.buffers[k]
	if ok {
		if b.HasDraft {
			b.DeletedUpstream = true
			b.ServerVersion = nil
		} else {
			delete(r.buffers, k)
		}
	}
	r.mu.Unlock()
	if ok {
		r.changed(k)
	}
}

// State returns the connection state.
func (r *Reconciler) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) setState(s ConnState) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()

	r.logger.Debug("connection state", "state", s.String())
	if r.onStateChange != nil {
		r.onStateChange(s)
	}
}

func (r *Reconciler) changed(k core.Key) {
	if r.onChange != nil {
		r.onChange(k)
	}
}

// Run keeps the live channel connected until ctx is cancelled. Buffers
// survive reconnects; after each reconnect every open document is fetched
// once so changes missed while disconnected reach the server versions.
func (r *Reconciler) Run(ctx context.Context, dialer Dialer) error {
	defer r.setState(Closed)

	connected := false
	for {
		r.setState(Connecting)
		conn, err := dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("connect failed", "error", err)
		} else {
			r.setState(Open)
			if connected {
				r.refresh(ctx)
			}
			connected = true

			err = r.consume(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("live channel interrupted", "error", err)
		}

		r.setState(Reconnecting)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.delay):
		}
	}
}

// consume applies frames from conn until it fails or ctx ends.
func (r *Reconciler) consume(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if s, ok := conn.(interface{ WriteJSON(v any) error }); ok {
		keys := r.Keys()
		if len(keys) > 0 {
			names := make([]string, 0, len(keys))
			for _, k := range keys {
				names = append(names, k.String())
			}
			if err := s.WriteJSON(hub.Command{Type: hub.CommandSubscribe, Keys: names}); err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
		}
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		var msg hub.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		r.Apply(msg)
	}
}

// refresh re-reads every open document, updating server versions only.
func (r *Reconciler) refresh(ctx context.Context) {
	for _, k := range r.Keys() {
		data, err := r.fetcher.Get(ctx, k.Namespace, k.Name)
		switch {
		case errors.Is(err, core.ErrNotFound):
			r.applyDelete(k)
		case err != nil:
			r.logger.Warn("refresh failed", "key", k.String(), "error", err)
		default:
			r.applyUpdate(k, data)
		}
	}
}
