package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-imports a price list file whenever it changes on disk.
type Watcher struct {
	catalog  *Catalog
	path     string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	reloads int
}

// NewWatcher creates a watcher for path. Changes are applied after debounce
// of quiet time.
func NewWatcher(c *Catalog, path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		catalog:  c,
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger.With("component", "catalog-watcher"),
		watcher:  fw,
	}, nil
}

// Run blocks until ctx is cancelled. The parent directory is watched so
// that editors replacing the file atomically are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Price list watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.trigger(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Price list watcher error", "error", err)
		}
	}
}

// Reloads returns how many imports the watcher has attempted.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		res, err := w.catalog.ImportFile(ctx, w.path)

		w.mu.Lock()
		w.reloads++
		w.mu.Unlock()

		if err != nil {
			w.logger.Error("Price list reload failed", "path", w.path, "error", err)
			return
		}
		w.logger.Info("Price list reloaded",
			"path", w.path,
			"defaults", res.Defaults,
			"overrides", res.Overrides,
		)
	})
}
