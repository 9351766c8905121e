package docsync

import (
	"log/slog"
	"time"

	"github.com/aretw0/docsync/internal/platform"
	"github.com/aretw0/docsync/pkg/core"
)

// --- Types ---

// Engine is the running synchronization engine.
type Engine = platform.Engine

// Config is the process configuration read from the environment.
type Config = platform.Config

// --- Configuration ---

// Option defines a functional option for configuring the engine.
type Option = platform.Option

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithRepository allows injecting a custom storage adapter.
func WithRepository(repo core.Repository) Option {
	return platform.WithRepository(repo)
}

// WithAdapter allows specifying the storage adapter to use by name.
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithMustExist ensures the data directory must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithReadOnly refuses every write.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithSchemaDir sets the directory holding per-resource schemas.
func WithSchemaDir(dir string) Option {
	return platform.WithSchemaDir(dir)
}

// WithRedis fans changes out to other instances through Redis pub/sub.
func WithRedis(url string) Option {
	return platform.WithRedis(url)
}

// WithRedisChannel overrides the relay channel.
func WithRedisChannel(channel string) Option {
	return platform.WithRedisChannel(channel)
}

// WithCORSOrigin sets the allowed origin of the HTTP API.
func WithCORSOrigin(origin string) Option {
	return platform.WithCORSOrigin(origin)
}

// WithWatch enables or disables the change watcher.
func WithWatch(enabled bool) Option {
	return platform.WithWatch(enabled)
}

// WithWatchPattern sets the glob of watched files.
func WithWatchPattern(pattern string) Option {
	return platform.WithWatchPattern(pattern)
}

// WithDebounce sets the watcher's quiet period.
func WithDebounce(d time.Duration) Option {
	return platform.WithDebounce(d)
}

// WithEventBuffer allows specifying the size of the watcher event buffer.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithWatcherErrorHandler registers a callback for runtime watcher failures.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// WithSendBuffer sets the per-viewer outbound queue size.
func WithSendBuffer(size int) Option {
	return platform.WithSendBuffer(size)
}

// WithEchoWindow sets how long own writes are remembered to drop their filesystem echo.
func WithEchoWindow(d time.Duration) Option {
	return platform.WithEchoWindow(d)
}

// --- Factory ---

// New creates an engine over the data directory at path. Writes through
// engine.Service reach hub sessions right away; call Start to also follow
// changes made on disk and by peer instances.
func New(path string, opts ...Option) (*Engine, error) {
	return platform.New(path, opts...)
}

// Init initializes a repository explicitly.
func Init(path string, opts ...Option) (core.Repository, error) {
	return platform.Init(path, opts...)
}

// LoadConfig reads DOCSYNC_* environment variables.
func LoadConfig() Config {
	return platform.LoadConfig()
}
