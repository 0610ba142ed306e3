package config

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

// reloadDebounce is the time to wait for rapid file changes to settle.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads configuration when one of the config files changes and
// hands each valid result to a callback. Invalid reloads are logged and
// dropped so the last good configuration stays in effect.
type Watcher struct {
	files    []string
	reload   func() (*Config, error)
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	running atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// NewWatcher creates a Watcher over the given files. reload produces a fresh
// Config; onChange receives every successfully reloaded Config.
func NewWatcher(files []string, reload func() (*Config, error), onChange func(*Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		files:    files,
		reload:   reload,
		onChange: onChange,
		logger:   logger.With("component", "config-watcher"),
		debounce: reloadDebounce,
	}
}

// Start begins watching in a background goroutine. Returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return fmt.Errorf("config watcher already running")
	}
	if len(w.files) == 0 {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	// Editors replace files on save, so watch the parent directories.
	targets := make(map[string]bool, len(w.files))
	dirs := make(map[string]bool)
	for _, f := range w.files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			_ = fsWatcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.runLoop(runCtx, fsWatcher, targets)
	return nil
}

// Stop terminates the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// Running returns whether the watcher is currently active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

func (w *Watcher) runLoop(ctx context.Context, fsWatcher *fsnotify.Watcher, targets map[string]bool) {
	defer func() {
		_ = fsWatcher.Close()
		w.running.Store(false)
		close(w.done)
	}()

	w.logger.Info("watching config files", "files", w.files)

	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	triggerReload := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			w.apply()
		})
	}

	for {
		select {
		case <-ctx.Done():
			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceMu.Unlock()
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				triggerReload()
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) apply() {
	cfg, err := w.reload()
	if err != nil {
		w.logger.Warn("config reload rejected", "error", err)
		return
	}
	w.logger.Info("config reloaded")
	w.onChange(cfg)
}
