// Package lifecycle bridges document change streams into lifecycle event
// sources, so a CLI or a supervised process can consume them like any other
// signal.
package lifecycle

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/docsync/pkg/core"
)

// SourceOption narrows what a change source emits.
type SourceOption func(*changeSource)

// WithNamespaces keeps only changes inside the given namespaces.
func WithNamespaces(namespaces ...string) SourceOption {
	return func(s *changeSource) {
		s.namespaces = append(s.namespaces, namespaces...)
	}
}

// WithKinds keeps only changes of the given kinds.
func WithKinds(kinds ...core.EventKind) SourceOption {
	return func(s *changeSource) {
		s.kinds = append(s.kinds, kinds...)
	}
}

// WithOrigins keeps only changes produced by the given components.
// A plain watch only ever sees watcher events; this matters when the source
// is fed from an engine publisher that also carries service and relay writes.
func WithOrigins(origins ...core.Origin) SourceOption {
	return func(s *changeSource) {
		s.origins = append(s.origins, origins...)
	}
}

type changeSource struct {
	events     <-chan core.ChangeEvent
	out        chan lifecycle.Event
	namespaces []string
	kinds      []core.EventKind
	origins    []core.Origin
	skipped    atomic.Int64
}

// Source is a lifecycle.Source of document changes.
type Source interface {
	lifecycle.Source
	// Skipped counts changes filtered out so far.
	Skipped() int64
}

// NewSource creates a lifecycle.Source that emits document change events.
// core.ChangeEvent satisfies lifecycle.Event through its String method.
// Without options every change is emitted.
func NewSource(events <-chan core.ChangeEvent, opts ...SourceOption) Source {
	s := &changeSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *changeSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *changeSource) Skipped() int64 {
	return s.skipped.Load()
}

func (s *changeSource) accepts(ev core.ChangeEvent) bool {
	if len(s.namespaces) > 0 && !slices.Contains(s.namespaces, ev.Namespace) {
		return false
	}
	if len(s.kinds) > 0 && !slices.Contains(s.kinds, ev.Kind) {
		return false
	}
	if len(s.origins) > 0 && !slices.Contains(s.origins, ev.Origin) {
		return false
	}
	return true
}

// Start forwards matching events until the input closes or ctx ends, then
// closes Events.
func (s *changeSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-s.events:
				if !ok {
					return nil
				}
				if !s.accepts(ev) {
					s.skipped.Add(1)
					continue
				}
				select {
				case s.out <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
