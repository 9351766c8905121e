package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"

	"github.com/aretw0/docsync/pkg/adapters/fs"
	"github.com/aretw0/docsync/pkg/adapters/httpapi"
	"github.com/aretw0/docsync/pkg/adapters/redis"
	"github.com/aretw0/docsync/pkg/adapters/ws"
	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/hub"
	"github.com/aretw0/docsync/pkg/schema"
)

// Watchable is a repository that reports changes made behind its back.
type Watchable interface {
	Watch(ctx context.Context) (<-chan core.ChangeEvent, error)
}

// Engine wires the document service, the broadcast hub, the change watcher
// and the transports around one data directory.
type Engine struct {
	Service    *core.Service
	Hub        *hub.Hub
	Repository core.Repository
	Schemas    *schema.DirSource

	relay   *redis.Relay
	handler http.Handler
	logger  *slog.Logger
	opts    *options

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New builds an engine over the data directory at uri. The hub dispatch loop
// runs from New until Close, so writes through Service are delivered without
// Start; Start adds the change watcher and the relay subscription.
//
//	engine, err := platform.New("./data", platform.WithSchemaDir("./schemas"))
func New(uri string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	repo, err := initRepository(uri, o)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Repository: repo,
		Hub:        hub.New(hub.WithLogger(logger.With("component", "hub")), hub.WithSendBuffer(o.sendBuffer)),
		logger:     logger,
		opts:       o,
	}

	var publisher core.Publisher = e.Hub
	if o.redisURL != "" {
		relayOpts := []redis.Option{
			redis.WithLogger(logger.With("component", "relay")),
			// peer writes go through the service so the local watcher echo is dropped
			redis.WithInbound(core.PublisherFunc(func(ev core.ChangeEvent) {
				e.Service.Ingest(ev)
			})),
		}
		if o.redisChannel != "" {
			relayOpts = append(relayOpts, redis.WithChannel(o.redisChannel))
		}
		e.relay, err = redis.NewRelay(o.redisURL, e.Hub, relayOpts...)
		if err != nil {
			return nil, err
		}
		publisher = e.relay
	}

	codec := fs.NewYAMLCodec()
	svcOpts := []core.ServiceOption{
		core.WithPublisher(publisher),
		core.WithLogger(logger.With("component", "service")),
	}
	if o.echoWindow > 0 {
		svcOpts = append(svcOpts, core.WithEchoWindow(o.echoWindow))
	}
	if o.schemaDir != "" {
		e.Schemas = schema.NewDirSource(o.schemaDir)
		svcOpts = append(svcOpts, core.WithValidator(
			schema.NewValidator(e.Schemas, codec, logger.With("component", "schema")),
		))
	}
	e.Service = core.NewService(repo, codec, svcOpts...)

	cfg := httpapi.Config{
		Logger:     logger.With("component", "http"),
		CORSOrigin: o.corsOrigin,
		Live:       ws.NewServer(e.Hub, nil, logger.With("component", "ws")),
	}
	if e.Schemas != nil {
		cfg.Schemas = e.Schemas
	}
	e.handler = httpapi.NewHandler(e.Service, cfg)

	lifecycle.Go(context.Background(), e.Hub.Run, lifecycle.WithErrorHandler(func(err error) {
		logger.Error("hub stopped", "error", err)
	}))

	return e, nil
}

// Handler returns the HTTP surface: CRUD API, schemas, health and /ws.
func (e *Engine) Handler() http.Handler {
	return e.handler
}

// Start runs the watcher and the relay. It returns once they are ready to
// deliver events; they stop, together with the hub, when ctx is cancelled or
// Close is called. A failed Start leaves the hub running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	onError := lifecycle.WithErrorHandler(func(err error) {
		e.logger.Error("background task failed", "error", err)
	})

	stopHub := context.AfterFunc(runCtx, e.Hub.Close)

	if e.relay != nil {
		lifecycle.Go(runCtx, e.relay.Run, onError)
		select {
		case <-e.relay.Ready():
		case <-time.After(5 * time.Second):
			stopHub()
			cancel()
			return fmt.Errorf("relay did not subscribe in time")
		}
	}

	if w, ok := e.Repository.(Watchable); ok && e.opts.watch {
		events, err := w.Watch(runCtx)
		if err != nil {
			stopHub()
			cancel()
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		lifecycle.Go(runCtx, func(ctx context.Context) error {
			e.Service.Observe(ctx, events)
			return nil
		}, onError)
	}

	e.cancel = cancel
	e.started = true
	e.logger.Info("engine started", "watch", e.opts.watch, "schemas", e.opts.schemaDir != "", "relay", e.relay != nil)
	return nil
}

// Close stops the background loops and disconnects every viewer.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.Hub.Close()
	if e.relay != nil {
		return e.relay.Close()
	}
	return nil
}

// EngineState aggregates the state of every component.
type EngineState struct {
	Repository any `json:"repository,omitempty"`
	Service    any `json:"service"`
	Hub        any `json:"hub"`
	Relay      any `json:"relay,omitempty"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	s := EngineState{
		Service: e.Service.State(),
		Hub:     e.Hub.State(),
	}
	if r, ok := e.Repository.(introspection.Introspectable); ok {
		s.Repository = r.State()
	}
	if e.relay != nil {
		s.Relay = e.relay.State()
	}
	return s
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
