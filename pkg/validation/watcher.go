package validation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/lineage/pkg/observability"
)

// ConfigWatcher keeps a Config in sync with a YAML file. Readers always see a
// complete configuration; a file that fails to parse leaves the previous one
// in place.
type ConfigWatcher struct {
	path    string
	logger  *observability.Logger
	current atomic.Pointer[Config]

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewConfigWatcher loads path and starts watching its directory
func NewConfigWatcher(path string, logger *observability.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &ConfigWatcher{
		path:    filepath.Clean(path),
		logger:  logger.WithField("config", path),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	w.current.Store(config)

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Config returns the current configuration
func (w *ConfigWatcher) Config() *Config {
	return w.current.Load()
}

// OnReload registers a callback run after each successful reload
func (w *ConfigWatcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Reload re-reads the file immediately
func (w *ConfigWatcher) Reload() error {
	config, err := LoadConfig(w.path)
	if err != nil {
		return err
	}
	w.current.Store(config)

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(config)
	}
	return nil
}

// Close stops watching
func (w *ConfigWatcher) Close(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.watcher.Close()

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).Warn("Keeping previous validation config")
				continue
			}
			w.logger.Info("Validation config reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}
