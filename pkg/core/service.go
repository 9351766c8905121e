package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ohler55/ojg/jp"
)

// DefaultEchoWindow is how long a Service write is remembered to recognise its own filesystem echo.
const DefaultEchoWindow = 2 * time.Second

// Service handles the business logic for documents.
//
// Every mutation is validate, then persist, then publish, while holding the
// lock of its key: two writers of the same document never interleave and the
// events of one key reach the Publisher in write order.
type Service struct {
	repo      Repository
	codec     Codec
	validator Validator
	publisher Publisher
	logger    *slog.Logger

	locks  *keyLocks
	ledger *writeLedger

	writes   atomic.Uint64
	rejected atomic.Uint64
	observed atomic.Uint64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithValidator sets the schema gate. Without one every parsable document is accepted.
func WithValidator(v Validator) ServiceOption {
	return func(s *Service) {
		s.validator = v
	}
}

// WithPublisher sets where accepted changes are sent.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEchoWindow sets how long own writes are remembered for echo suppression.
func WithEchoWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.ledger = newWriteLedger(d)
	}
}

// NewService creates a new Service.
func NewService(repo Repository, codec Codec, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		codec:     codec,
		publisher: PublisherFunc(func(ChangeEvent) {}),
		logger:    slog.New(slog.DiscardHandler),
		locks:     newKeyLocks(),
		ledger:    newWriteLedger(DefaultEchoWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new document. It fails with ErrAlreadyExists if the key is taken.
func (s *Service) Create(ctx context.Context, namespace, name string, raw []byte) error {
	k := Key{Namespace: namespace, Name: name}
	unlock := s.locks.lock(k)
	defer unlock()

	exists, err := s.repo.Exists(ctx, namespace, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", k, ErrAlreadyExists)
	}

	return s.persist(ctx, k, raw)
}

// Update replaces an existing document. It never creates: an absent key yields ErrNotFound,
// callers that need upsert call Create and fall back to Update.
func (s *Service) Update(ctx context.Context, namespace, name string, raw []byte) error {
	k := Key{Namespace: namespace, Name: name}
	unlock := s.locks.lock(k)
	defer unlock()

	exists, err := s.repo.Exists(ctx, namespace, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", k, ErrNotFound)
	}

	return s.persist(ctx, k, raw)
}

// Remove deletes a document. Removing an absent document succeeds without an event.
func (s *Service) Remove(ctx context.Context, namespace, name string) error {
	k := Key{Namespace: namespace, Name: name}
	unlock := s.locks.lock(k)
	defer unlock()

	if err := s.repo.Delete(ctx, namespace, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("delete of absent document", "key", k.String())
			return nil
		}
		return err
	}

	s.ledger.recordDelete(k)
	s.writes.Add(1)
	s.publisher.Publish(ChangeEvent{
		Kind:      EventDeleted,
		Namespace: namespace,
		Name:      name,
		Origin:    OriginService,
		Timestamp: time.Now(),
	})
	s.logger.Info("document deleted", "key", k.String())
	return nil
}

// Get retrieves a document with its parsed content.
func (s *Service) Get(ctx context.Context, namespace, name string) (Document, error) {
	raw, err := s.repo.Read(ctx, namespace, name)
	if err != nil {
		return Document{}, err
	}
	data, err := s.codec.Decode(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w: %v", namespace, name, ErrMalformed, err)
	}
	return Document{Namespace: namespace, Name: name, Raw: raw, Data: data}, nil
}

// List returns the document names of a namespace.
func (s *Service) List(ctx context.Context, namespace string) ([]string, error) {
	return s.repo.List(ctx, namespace)
}

// Namespaces returns every namespace holding documents.
func (s *Service) Namespaces(ctx context.Context) ([]string, error) {
	return s.repo.Namespaces(ctx)
}

// Query evaluates a JSONPath expression against the parsed document.
func (s *Service) Query(ctx context.Context, namespace, name, path string) ([]any, error) {
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrInvalidQuery, path, err)
	}
	doc, err := s.Get(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	return x.Get(doc.Data), nil
}

// EncodeData turns request data into raw content. Strings are taken as raw
// document text, any other value is serialized with the Codec.
func (s *Service) EncodeData(data any) ([]byte, error) {
	if text, ok := data.(string); ok {
		return []byte(text), nil
	}
	raw, err := s.codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

// Observe forwards changes detected outside the Service (e.g. by a filesystem
// watcher) to the Publisher through Ingest.
// Observe returns when events is closed or ctx is done.
func (s *Service) Observe(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Ingest(ev)
		}
	}
}

// Ingest publishes a change made outside the Service: a watcher event or a
// write relayed from another instance over the same directory.
// A change that repeats the state last broadcast for its key is dropped, so
// the watcher echo of an own or relayed write reaches viewers only once.
// External content is never rejected; schema violations are only logged.
func (s *Service) Ingest(ev ChangeEvent) {
	k := ev.Key()
	unlock := s.locks.lock(k)
	defer unlock()

	if s.ledger.isEcho(ev) {
		s.logger.Debug("ignoring echo of broadcast change", "key", k.String(), "kind", ev.Kind, "origin", ev.Origin)
		return
	}

	if ev.Kind == EventUpdated {
		if errs := unencodable(ev.Payload); len(errs) > 0 {
			s.logger.Warn("external change has values without a JSON form, broadcasting raw text",
				"key", k.String(), "errors", len(errs))
			ev.Payload = string(ev.Raw)
		}
		if ev.Origin == OriginWatcher && s.validator != nil {
			if res := s.validator.Validate(ev.Raw, SchemaID(ev.Name)); !res.Valid() {
				s.logger.Warn("external change does not match schema, broadcasting anyway",
					"key", k.String(), "errors", len(res.Errors))
			}
		}
	}

	s.ledger.record(ev)
	s.observed.Add(1)
	s.publisher.Publish(ev)
	s.logger.Info("external change", "key", k.String(), "kind", ev.Kind, "origin", ev.Origin)
}

// persist runs validate-then-write-then-publish. The caller holds the key lock.
func (s *Service) persist(ctx context.Context, k Key, raw []byte) error {
	data, err := s.codec.Decode(raw)
	if err != nil {
		s.rejected.Add(1)
		return MalformedError(err)
	}
	if errs := unencodable(data); len(errs) > 0 {
		s.rejected.Add(1)
		s.logger.Info("write rejected", "key", k.String(), "errors", len(errs))
		return &ValidationError{Errors: errs}
	}

	if s.validator != nil {
		res := s.validator.Validate(raw, SchemaID(k.Name))
		if !res.Valid() {
			s.rejected.Add(1)
			s.logger.Info("write rejected", "key", k.String(), "errors", len(res.Errors))
			return &ValidationError{Errors: res.Errors}
		}
	}

	if err := s.repo.Write(ctx, k.Namespace, k.Name, raw); err != nil {
		return err
	}
	s.ledger.recordWrite(k, raw)
	s.writes.Add(1)

	s.publisher.Publish(ChangeEvent{
		Kind:      EventUpdated,
		Namespace: k.Namespace,
		Name:      k.Name,
		Payload:   data,
		Raw:       raw,
		Origin:    OriginService,
		Timestamp: time.Now(),
	})
	s.logger.Info("document written", "key", k.String(), "bytes", len(raw))
	return nil
}
