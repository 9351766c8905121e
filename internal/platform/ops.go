package platform

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/docsync/pkg/adapters/fs"
	"github.com/aretw0/docsync/pkg/core"
)

// Init prepares the storage of an engine. The uri argument is adapter
// specific (a directory for "fs").
func Init(uri string, opts ...Option) (core.Repository, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return initRepository(uri, o)
}

func initRepository(uri string, o *options) (core.Repository, error) {
	if o.repository != nil {
		return o.repository, nil
	}

	switch o.adapter {
	case "fs":
		return initFS(uri, o)
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}
}

func initFS(path string, o *options) (*fs.Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	repo := fs.NewRepository(fs.Config{
		Path:         abs,
		MustExist:    o.mustExist || o.readOnly,
		ReadOnly:     o.readOnly,
		Logger:       logger.With("component", "repository"),
		Codec:        fs.NewYAMLCodec(),
		ErrorHandler: o.errorHandler,
		WatchPattern: o.watchPattern,
		Debounce:     o.debounce,
		EventBuffer:  o.eventBuffer,
	})
	if err := repo.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}
