// Package reload applies configuration changes to a running App, triggered
// by filesystem notifications or SIGHUP.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// Debounce coalesces bursts of writes (editors often write, chmod and
	// rename in quick succession). Defaults to 250ms.
	Debounce time.Duration

	Logger *slog.Logger
}

func (c WatcherConfig) debounceOrDefault() time.Duration {
	if c.Debounce > 0 {
		return c.Debounce
	}
	return defaultDebounce
}

// EventType describes the type of file change event.
type EventType string

const (
	// EventModified indicates the config file was modified.
	EventModified EventType = "modified"
)

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
}

// Watcher emits an Event after the configuration file changes. It watches
// the parent directory so atomic-rename saves are seen.
type Watcher struct {
	cfg     WatcherConfig
	logger  *slog.Logger
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		logger:  logger,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins watching. Only the first call has an effect.
func (w *Watcher) Start(ctx context.Context) error {
	var err error
	w.startOnce.Do(func() {
		var fsw *fsnotify.Watcher
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			err = fmt.Errorf("reload: create watcher: %w", err)
			return
		}
		if err = fsw.Add(filepath.Dir(w.cfg.ConfigPath)); err != nil {
			_ = fsw.Close()
			err = fmt.Errorf("reload: watch %s: %w", w.cfg.ConfigPath, err)
			return
		}
		w.started.Store(true)
		go w.run(ctx, fsw)
	})
	return err
}

// Events returns the channel of file change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher. Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.stopped)
	defer func() { _ = fsw.Close() }()

	target := filepath.Clean(w.cfg.ConfigPath)
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(w.cfg.debounceOrDefault())
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("reload: watcher error", "error", err)
		case <-debounce.C:
			select {
			case w.events <- Event{Type: EventModified, ConfigPath: w.cfg.ConfigPath}:
			default:
				// A reload is already pending.
			}
		}
	}
}
