package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors typically produce several write/rename events per save.
const DebounceDelay = 100 * time.Millisecond

// Subscriber receives notifications when the settings file changes.
// Implementations must be safe for concurrent use.
type Subscriber interface {
	// OnConfigChanged is called with the freshly reloaded configuration.
	OnConfigChanged(cfg *Config)
}

// Watcher monitors the settings file and notifies subscribers with the
// reloaded configuration. Reload failures keep the previous configuration
// and are logged, never propagated.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	mu          sync.Mutex
	path        string
	watcher     *fsnotify.Watcher
	subscribers []Subscriber
	logger      *slog.Logger

	debounce *time.Timer
	done     chan struct{}
	closed   bool
}

// NewWatcher starts watching the settings file at path.
// The containing directory is watched so atomic saves (write temp, rename)
// are still observed.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Subscribe registers a subscriber for configuration changes.
func (w *Watcher) Subscribe(s Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, s)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
	}
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", "error", err)
			}
		}
	}
}

// scheduleReload debounces bursts of file events into a single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(DebounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed, keeping previous configuration",
				"path", w.path, "error", err)
		}
		return
	}

	w.mu.Lock()
	subs := make([]Subscriber, len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Info("configuration reloaded", "path", w.path)
	}
	for _, s := range subs {
		s.OnConfigChanged(cfg)
	}
}
