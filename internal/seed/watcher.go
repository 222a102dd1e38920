package seed

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the seed asset whenever the file changes on disk.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload func(*Asset)
}

// NewWatcher creates a watcher for the asset at path. onReload runs
// with each successfully parsed new version.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Asset)) *Watcher {
	return &Watcher{path: path, logger: logger, onReload: onReload}
}

// Watch blocks until the context is cancelled. The parent directory is
// watched rather than the file itself: editors typically replace the
// file via rename, which would silently kill a watch on the inode.
// Bursts of events are debounced into a single reload.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching seed dir: %w", err)
	}

	w.logger.Info("seed watcher started", slog.String("path", w.path))

	debounced := debounce.New(500 * time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounced(w.reload)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("seed watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	asset, err := Load(w.path)
	if err != nil {
		w.logger.Warn("seed reload failed", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("seed asset reloaded",
		slog.Int("items", len(asset.Items)),
		slog.Int("whitelist", len(asset.Whitelist)),
	)

	w.onReload(asset)
}
