// Package watch re-runs a callback when a blueprint file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce absorbs the burst of events editors emit on save.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches one file. The parent directory is watched so that
// editors replacing the file by rename are still seen.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger

	mu      sync.Mutex
	changes int
}

// New creates a watcher calling onChange after path changes.
func New(path string, onChange func(ctx context.Context) error, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger,
	}
}

// WithDebounce sets the quiet period before onChange runs.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Changes returns how many times onChange has been called.
func (w *Watcher) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}

// Run blocks until ctx is done. Errors from onChange are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Info("watching blueprint", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)

		case <-fire:
			fire = nil
			w.mu.Lock()
			w.changes++
			w.mu.Unlock()
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("blueprint change handler failed", "path", w.path, "error", err)
			}
		}
	}
}
