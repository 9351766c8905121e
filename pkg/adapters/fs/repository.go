package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultWatchPattern matches every document one level below the root.
const DefaultWatchPattern = "*/*.{yaml,yml}"

// DefaultDebounce is the quiet period before a burst of file events is reported.
const DefaultDebounce = 100 * time.Millisecond

// Repository implements core.Repository on a directory tree laid out as
// <root>/<namespace>/<name>.
type Repository struct {
	Path   string
	config Config

	mu            sync.RWMutex
	watcherActive bool
	lastEvent     *time.Time
}

// Config holds the configuration for the filesystem repository.
type Config struct {
	Path      string
	MustExist bool
	ReadOnly  bool
	Logger    *slog.Logger

	// Extensions are the accepted document extensions. Defaults to DefaultExtensions.
	Extensions []string
	// Codec rejects unparsable content on Write and parses files for the watcher.
	Codec core.Codec
	// ErrorHandler receives watcher failures that cannot be returned to a caller.
	ErrorHandler func(error)

	// WatchPattern is a doublestar glob matched against paths relative to Path.
	WatchPattern string
	Debounce     time.Duration
	EventBuffer  int
}

// NewRepository creates a new filesystem-backed repository.
func NewRepository(config Config) *Repository {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultExtensions
	}
	if config.Codec == nil {
		config.Codec = NewYAMLCodec()
	}
	if config.WatchPattern == "" {
		config.WatchPattern = DefaultWatchPattern
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	return &Repository{
		Path:   filepath.Clean(config.Path),
		config: config,
	}
}

// Initialize prepares the storage root.
func (r *Repository) Initialize(ctx context.Context) error {
	if r.config.MustExist {
		info, err := os.Stat(r.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("data path does not exist: %s", r.Path)
		}
		if err != nil {
			return &core.StorageError{Op: "stat", Path: r.Path, Err: err}
		}
		if !info.IsDir() {
			return fmt.Errorf("data path is not a directory: %s", r.Path)
		}
		return nil
	}
	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Read implements core.Repository.
func (r *Repository) Read(ctx context.Context, namespace, name string) ([]byte, error) {
	path, err := r.resolve(namespace, name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrNotFound
		}
		return nil, &core.StorageError{Op: "read", Path: path, Err: err}
	}
	return raw, nil
}

// Write implements core.Repository. Content that does not parse is refused
// before anything touches the disk.
func (r *Repository) Write(ctx context.Context, namespace, name string, raw []byte) error {
	if r.config.ReadOnly {
		return core.ErrReadOnly
	}
	path, err := r.resolve(namespace, name)
	if err != nil {
		return err
	}
	if _, err := r.config.Codec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &core.StorageError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	if err := writeFileAtomic(path, raw, 0644); err != nil {
		return &core.StorageError{Op: "write", Path: path, Err: err}
	}
	r.config.Logger.Debug("document written", "namespace", namespace, "name", name, "bytes", len(raw))
	return nil
}

// Delete implements core.Repository.
func (r *Repository) Delete(ctx context.Context, namespace, name string) error {
	if r.config.ReadOnly {
		return core.ErrReadOnly
	}
	path, err := r.resolve(namespace, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.ErrNotFound
		}
		return &core.StorageError{Op: "delete", Path: path, Err: err}
	}
	r.config.Logger.Debug("document deleted", "namespace", namespace, "name", name)
	return nil
}

// Exists implements core.Repository.
func (r *Repository) Exists(ctx context.Context, namespace, name string) (bool, error) {
	path, err := r.resolve(namespace, name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &core.StorageError{Op: "stat", Path: path, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// List implements core.Repository.
func (r *Repository) List(ctx context.Context, namespace string) ([]string, error) {
	if err := validSegment(namespace); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.Path, namespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrNotFound
		}
		return nil, &core.StorageError{Op: "list", Path: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !r.hasExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Namespaces implements core.Repository.
func (r *Repository) Namespaces(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, &core.StorageError{Op: "list", Path: r.Path, Err: err}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// Watch starts observing the storage root. The returned channel is closed
// when ctx is cancelled or the watcher fails.
func (r *Repository) Watch(ctx context.Context) (<-chan core.ChangeEvent, error) {
	events := make(chan core.ChangeEvent, r.config.EventBuffer)
	w := newWatchWorker(r, events)
	w.onExit = func() { close(events) }
	if err := w.Start(ctx); err != nil {
		close(events)
		return nil, err
	}
	return events, nil
}

// resolve maps a key to a path inside the root, refusing anything that could
// address a file outside of it.
func (r *Repository) resolve(namespace, name string) (string, error) {
	if err := validSegment(namespace); err != nil {
		return "", err
	}
	if err := validSegment(name); err != nil {
		return "", err
	}
	if !r.hasExtension(name) {
		return "", fmt.Errorf("%w: unsupported extension %q", core.ErrInvalidPath, filepath.Ext(name))
	}

	path := filepath.Join(r.Path, namespace, name)
	rel, err := filepath.Rel(r.Path, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s/%s", core.ErrInvalidPath, namespace, name)
	}
	return path, nil
}

// keyFor is the inverse of resolve for paths reported by the watcher.
func (r *Repository) keyFor(path string) (core.Key, bool) {
	rel, err := filepath.Rel(r.Path, path)
	if err != nil {
		return core.Key{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return core.Key{}, false
	}
	if validSegment(parts[0]) != nil || validSegment(parts[1]) != nil || !r.hasExtension(parts[1]) {
		return core.Key{}, false
	}
	return core.Key{Namespace: parts[0], Name: parts[1]}, true
}

func (r *Repository) hasExtension(name string) bool {
	return slices.Contains(r.config.Extensions, strings.ToLower(filepath.Ext(name)))
}

func validSegment(s string) error {
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("%w: %q", core.ErrInvalidPath, s)
	case strings.ContainsAny(s, `/\`), strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: %q contains a separator", core.ErrInvalidPath, s)
	case filepath.IsAbs(s), filepath.VolumeName(s) != "":
		return fmt.Errorf("%w: %q is absolute", core.ErrInvalidPath, s)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%w: %q is hidden", core.ErrInvalidPath, s)
	}
	return nil
}

var _ core.Repository = (*Repository)(nil)
