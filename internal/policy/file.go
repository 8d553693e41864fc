package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML policy document. Fields the document omits keep
// their DefaultPolicy values, so a minimal document stays safe.
func LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return p, nil
}

// FileWatcher re-installs a policy file into an engine scope whenever the
// file changes on disk. The parent directory is watched rather than the file
// itself, because most editors replace files on save.
type FileWatcher struct {
	fsWatcher *fsnotify.Watcher
	engine    *Engine
	scope     string
	target    string
	done      chan struct{}
	logger    *slog.Logger
}

// WatchFile installs the policy at path into the engine's scope and keeps it
// in sync with the file. A bad edit keeps the previously installed policy.
func WatchFile(path, scope string, engine *Engine, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := engine.SetPolicy(scope, p); err != nil {
		return nil, fmt.Errorf("failed to install policy from %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	target, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &FileWatcher{
		fsWatcher: fsw,
		engine:    engine,
		scope:     scope,
		target:    target,
		done:      make(chan struct{}),
		logger:    logger.With("component", "policy.FileWatcher"),
	}
	go w.loop()
	return w, nil
}

// Stop shuts down the watcher and releases resources.
func (w *FileWatcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *FileWatcher) loop() {
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

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.target {
		return
	}

	p, err := LoadFile(w.target)
	if err != nil {
		w.logger.Error("policy reload failed, keeping previous", "error", err)
		return
	}
	installed, err := w.engine.SetPolicy(w.scope, p)
	if err != nil {
		w.logger.Error("policy install failed, keeping previous", "error", err)
		return
	}
	w.logger.Info("policy reloaded",
		"path", w.target,
		"scope", w.scope,
		"version", installed.Version,
	)
}
