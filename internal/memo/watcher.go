package memo

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher evicts cached loads when files in a directory change.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	cache    *Cache
	logger   *slog.Logger
	onChange func(ctx context.Context, file string)
}

// NewWatcher starts watching dir. onChange runs after the eviction for
// every change event and may be nil.
func NewWatcher(dir string, cache *Cache, logger *slog.Logger, onChange func(ctx context.Context, file string)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		cache:    cache,
		logger:   logger.With(slog.String("component", "watcher")),
		onChange: onChange,
	}, nil
}

// Run handles events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Watching data directory", slog.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&changeOps == 0 {
				continue
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "File watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	file := filepath.Base(event.Name)
	n, err := w.cache.Invalidate(ctx, LoadPrefix(file))
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to invalidate cached load",
			slog.String("file", file), slog.String("error", err.Error()))
	}
	w.logger.InfoContext(ctx, "Data file changed",
		slog.String("file", file),
		slog.String("op", event.Op.String()),
		slog.Int("evicted", n))
	if w.onChange != nil {
		w.onChange(ctx, file)
	}
}

// Close stops the watcher and ends Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
