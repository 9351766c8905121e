package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/docsync/pkg/core"
)

type watchWorker struct {
	*worker.BaseWorker
	repo      *Repository
	events    chan core.ChangeEvent
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
	// onExit runs once the loop has drained, after which nothing sends on events.
	onExit func()
}

func newWatchWorker(repo *Repository, events chan core.ChangeEvent) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		repo:       repo,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}
	if !doublestar.ValidatePattern(w.repo.config.WatchPattern) {
		return fmt.Errorf("invalid watch pattern: %q", w.repo.config.WatchPattern)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.addTree(watcher); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(w.repo.config.Debounce)
	w.repo.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// addTree watches the root and every namespace directory below it.
// Existing files are not reported.
func (w *watchWorker) addTree(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(w.repo.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.repo.Path, err)
	}
	entries, err := os.ReadDir(w.repo.Path)
	if err != nil {
		return &core.StorageError{Op: "list", Path: w.repo.Path, Err: err}
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := watcher.Add(filepath.Join(w.repo.Path, e.Name())); err != nil {
			return fmt.Errorf("failed to watch namespace %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (w *watchWorker) run(ctx context.Context) (err error) {
	logger := w.repo.config.Logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("watcher panic", "error", err)
			}
		}
		w.cancel()
		w.debouncer.stopAndWait(5 * time.Second)
		if w.onExit != nil {
			w.onExit()
		}
	}()
	defer w.repo.setWatcherActive(false)
	defer w.watcher.Close()

	return w.loop(ctx)
}

func (w *watchWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.handle(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.repo.config.Logger.Error("fsnotify error", "error", wErr)
			if w.repo.config.ErrorHandler != nil {
				w.repo.config.ErrorHandler(wErr)
			}
		}
	}
}

// handle filters a raw notification and schedules the debounced emission.
func (w *watchWorker) handle(ctx context.Context, event fsnotify.Event) {
	logger := w.repo.config.Logger
	logger.Debug("event received", "name", event.Name, "op", event.Op.String())

	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == w.repo.Path {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addNamespace(ctx, event.Name)
			return
		}
	}

	if w.shouldIgnore(event.Name) {
		return
	}
	key, ok := w.repo.keyFor(event.Name)
	if !ok {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	path := event.Name
	w.debouncer.add(path, func() {
		w.emit(ctx, w.snapshot(key, path))
	})
}

// addNamespace starts watching a namespace created after startup. Files that
// landed in it before the watch was in place are reported as updates.
func (w *watchWorker) addNamespace(ctx context.Context, dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.repo.config.Logger.Error("failed to watch new namespace", "path", dir, "error", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if strings.HasPrefix(e.Name(), ".") || w.shouldIgnore(path) {
			continue
		}
		key, ok := w.repo.keyFor(path)
		if !ok {
			continue
		}
		w.debouncer.add(path, func() {
			w.emit(ctx, w.snapshot(key, path))
		})
	}
}

func (w *watchWorker) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.repo.Path, path)
	if err != nil {
		return true
	}
	ok, err := doublestar.Match(w.repo.config.WatchPattern, filepath.ToSlash(rel))
	return err != nil || !ok
}

// snapshot reads the settled state of path. A file that is gone or cannot be
// read is reported as deleted. Content that does not parse is passed on as
// the raw string so subscribers still see what is on disk.
func (w *watchWorker) snapshot(key core.Key, path string) core.ChangeEvent {
	logger := w.repo.config.Logger
	ev := core.ChangeEvent{
		Namespace: key.Namespace,
		Name:      key.Name,
		Origin:    core.OriginWatcher,
		Timestamp: time.Now().UTC(),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, iofs.ErrNotExist) {
			logger.Warn("unreadable document reported as deleted", "key", key.String(), "error", err)
		}
		ev.Kind = core.EventDeleted
		return ev
	}

	ev.Kind = core.EventUpdated
	ev.Raw = raw
	data, err := w.repo.config.Codec.Decode(raw)
	if err != nil {
		logger.Warn("document changed on disk does not parse", "key", key.String(), "error", err)
		ev.Payload = string(raw)
		return ev
	}
	ev.Payload = data
	return ev
}

func (w *watchWorker) emit(ctx context.Context, ev core.ChangeEvent) {
	defer func() {
		// The channel may already be closed if shutdown outlived the debouncer wait.
		_ = recover()
	}()
	w.repo.recordEvent(ev.Timestamp)
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
