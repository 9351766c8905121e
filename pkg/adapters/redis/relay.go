// Package redis relays change events between docsync instances sharing a
// data directory, using Redis pub/sub.
//
// Only writes made through a Service are relayed. Every instance watching the
// shared directory sees external edits by itself, and a peer's write arrives
// both from the relay and from the local watcher: the receiving Service drops
// whichever copy comes second (see core.Service.Ingest).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "docsync:changes"

// envelope is the wire form of a relayed event.
type envelope struct {
	Origin    string         `json:"origin"`
	Kind      core.EventKind `json:"kind"`
	Namespace string         `json:"namespace"`
	Name      string         `json:"name"`
	Payload   any            `json:"payload,omitempty"`
	Raw       []byte         `json:"raw,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Relay is a core.Publisher that delivers every event to a local publisher
// and to the other instances subscribed to the same channel. Events received
// from peers are delivered to the local publisher only.
type Relay struct {
	client   *goredis.Client
	local    core.Publisher
	inbound  core.Publisher
	channel  string
	instance string
	timeout  time.Duration
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	sent     atomic.Int64
	received atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) Option {
	return func(r *Relay) { r.channel = channel }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithInbound sets where events received from peers are delivered.
// Defaults to the local publisher.
func WithInbound(p core.Publisher) Option {
	return func(r *Relay) { r.inbound = p }
}

// WithInstanceID fixes the identifier used to recognise our own messages.
func WithInstanceID(id string) Option {
	return func(r *Relay) { r.instance = id }
}

// NewRelay connects to redisURL and verifies the connection.
func NewRelay(redisURL string, local core.Publisher, opts ...Option) (*Relay, error) {
	redisOpts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRelayWithClient(client, local, opts...), nil
}

// NewRelayWithClient creates a relay from an existing client.
func NewRelayWithClient(client *goredis.Client, local core.Publisher, opts ...Option) *Relay {
	r := &Relay{
		client:   client,
		local:    local,
		channel:  DefaultChannel,
		instance: uuid.NewString(),
		timeout:  2 * time.Second,
		logger:   slog.New(slog.DiscardHandler),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.inbound == nil {
		r.inbound = local
	}
	return r
}

// Instance returns the identifier stamped on outgoing messages.
func (r *Relay) Instance() string {
	return r.instance
}

// Publish implements core.Publisher. Every event reaches the local
// publisher; only Service writes are sent to peers.
func (r *Relay) Publish(ev core.ChangeEvent) {
	r.local.Publish(ev)
	if ev.Origin != core.OriginService {
		return
	}

	payload, err := json.Marshal(envelope{
		Origin:    r.instance,
		Kind:      ev.Kind,
		Namespace: ev.Namespace,
		Name:      ev.Name,
		Payload:   ev.Payload,
		Raw:       ev.Raw,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		r.logger.Error("failed to encode relayed change", "key", ev.Key().String(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("failed to relay change", "key", ev.Key().String(), "error", err)
		return
	}
	r.sent.Add(1)
}

// Ready is closed once the subscription is confirmed by the server.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run receives peer events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", "channel", r.channel, "instance", r.instance)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Relay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("ignoring malformed relay message", "error", err)
		return
	}
	if env.Origin == r.instance {
		return
	}
	r.received.Add(1)
	r.inbound.Publish(core.ChangeEvent{
		Kind:      env.Kind,
		Namespace: env.Namespace,
		Name:      env.Name,
		Payload:   env.Payload,
		Raw:       env.Raw,
		Origin:    core.OriginRelay,
		Timestamp: env.Timestamp,
	})
}

// Close releases the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}

// RelayState exposes internal state for observability.
type RelayState struct {
	Channel  string `json:"channel"`
	Instance string `json:"instance"`
	Sent     int64  `json:"sent"`
	Received int64  `json:"received"`
}

// State implements introspection.Introspectable.
func (r *Relay) State() any {
	return RelayState{
		Channel:  r.channel,
		Instance: r.instance,
		Sent:     r.sent.Load(),
		Received: r.received.Load(),
	}
}

// ComponentType implements introspection.Component.
func (r *Relay) ComponentType() string {
	return "relay"
}

var _ core.Publisher = (*Relay)(nil)
