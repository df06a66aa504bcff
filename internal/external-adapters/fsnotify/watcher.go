// Package fsnotify watches Cassandra snapshot directories for new snapshots.
package fsnotify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/beobal/csp/internal/domain/interfaces"
)

// Watcher wraps fsnotify with idempotent Watch and change callbacks.
type Watcher struct {
	watcher   *fsnotify.Watcher
	callbacks []func(string)
	watched   map[string]struct{}
	mu        sync.RWMutex
	logger    interfaces.Logger
}

// NewWatcher creates a new directory watcher.
func NewWatcher(logger interfaces.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &Watcher{
		watcher: w,
		watched: make(map[string]struct{}),
		logger:  logger,
	}, nil
}

// Watch adds a directory to watch.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[path]; ok {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.watched[path] = struct{}{}

	w.logger.Debug("watching directory", interfaces.F("path", path))
	return nil
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.watched)
}

// OnChange registers a callback called with the path of every created or
// written entry.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.notifyCallbacks(event.Name)
			}
			if event.Has(fsnotify.Remove) {
				w.forget(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", interfaces.Err(err))
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// forget drops a removed directory so it can be watched again if recreated.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, filepath.Clean(path))
}

func (w *Watcher) notifyCallbacks(path string) {
	// Callbacks may call Watch, so they run without the lock held
	w.mu.RLock()
	callbacks := make([]func(string), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(path)
	}
}
