package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// options holds the internal configuration of an Engine.
type options struct {
	repository core.Repository
	logger     *slog.Logger
	adapter    string

	mustExist    bool
	readOnly     bool
	schemaDir    string
	redisURL     string
	redisChannel string
	corsOrigin   string

	watch        bool
	watchPattern string
	debounce     time.Duration
	eventBuffer  int
	errorHandler func(error)

	sendBuffer int
	echoWindow time.Duration
}

// Option defines a functional option for configuring the engine.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		adapter:    "fs",
		watch:      true,
		corsOrigin: "*",
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRepository injects a custom storage adapter. The filesystem adapter
// is skipped and the watcher only runs if the repository can watch.
func WithRepository(repo core.Repository) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithAdapter selects the storage adapter by name. Defaults to "fs".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithMustExist requires the data directory to exist already.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.mustExist = must
	}
}

// WithReadOnly refuses every write with core.ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.readOnly = enabled
	}
}

// WithSchemaDir sets the directory holding per-resource schemas.
// Without it every parsable document is accepted.
func WithSchemaDir(dir string) Option {
	return func(o *options) {
		o.schemaDir = dir
	}
}

// WithRedis enables the cross-instance relay.
func WithRedis(url string) Option {
	return func(o *options) {
		o.redisURL = url
	}
}

// WithRedisChannel overrides the relay channel.
func WithRedisChannel(channel string) Option {
	return func(o *options) {
		o.redisChannel = channel
	}
}

// WithCORSOrigin sets the allowed origin of the HTTP API. Empty disables CORS.
func WithCORSOrigin(origin string) Option {
	return func(o *options) {
		o.corsOrigin = origin
	}
}

// WithWatch enables or disables the change watcher. Enabled by default.
func WithWatch(enabled bool) Option {
	return func(o *options) {
		o.watch = enabled
	}
}

// WithWatchPattern sets the glob of watched files, relative to the data directory.
func WithWatchPattern(pattern string) Option {
	return func(o *options) {
		o.watchPattern = pattern
	}
}

// WithDebounce sets the watcher's quiet period.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithEventBuffer sets the size of the watcher event buffer.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithWatcherErrorHandler registers a callback for runtime watcher failures
// (e.g. permission denied) that are otherwise only logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithSendBuffer sets the per-viewer outbound queue size.
func WithSendBuffer(size int) Option {
	return func(o *options) {
		o.sendBuffer = size
	}
}

// WithEchoWindow sets how long own writes are remembered to drop their filesystem echo.
func WithEchoWindow(d time.Duration) Option {
	return func(o *options) {
		o.echoWindow = d
	}
}
