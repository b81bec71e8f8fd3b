package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aurora-dev/aurora/internal/logging"
)

// ReloadFunc is called with the freshly loaded config after a change.
// Only governor knobs (budget caps, health intervals) are expected to take
// effect without a restart.
type ReloadFunc func(cfg *Config)

// Watcher reloads the config file on change.
type Watcher struct {
	loader *Loader
	logger *logging.Logger

	mu       sync.Mutex
	onReload []ReloadFunc
}

// NewWatcher creates a config watcher around a loader.
func NewWatcher(loader *Loader, logger *logging.Logger) *Watcher {
	return &Watcher{loader: loader, logger: logger}
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Run watches the loaded config file until the context is cancelled.
// A missing config file (env-only setup) disables watching silently.
func (w *Watcher) Run(ctx context.Context) error {
	path := w.loader.ConfigFileUsed()
	if path == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			if err := Validate(cfg); err != nil {
				w.logger.Warn("config reload rejected", "path", path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", path)
			w.mu.Lock()
			callbacks := make([]ReloadFunc, len(w.onReload))
			copy(callbacks, w.onReload)
			w.mu.Unlock()
			for _, fn := range callbacks {
				fn(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
