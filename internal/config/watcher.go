package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the Loader when its config file changes on disk and fires
// registered callbacks with the new config. The parent directory is watched
// rather than the file itself, because most editors replace files on save.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	loader    *Loader
	target    string

	mu        sync.Mutex // protects callbacks slice
	callbacks []func(*Config)
	done      chan struct{}
	logger    *slog.Logger
}

// NewWatcher creates a Watcher for the Loader's current file. The Loader must
// have loaded a file already.
func NewWatcher(loader *Loader, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	target, err := filepath.Abs(loader.FilePath())
	if err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsw,
		loader:    loader,
		target:    target,
		done:      make(chan struct{}),
		logger:    logger.With("component", "config.Watcher"),
	}

	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// OnReload registers a callback invoked with the new config after every
// successful reload. Callbacks run on the watcher goroutine; keep them fast.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts down the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.target {
		return
	}

	if err := w.loader.Reload(); err != nil {
		// Keep the previous config active on a bad edit.
		w.logger.Error("config reload failed, keeping previous", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.target)

	cfg := w.loader.Get()
	w.mu.Lock()
	cbs := make([]func(*Config), len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()
	for _, fn := range cbs {
		fn(cfg)
	}
}
