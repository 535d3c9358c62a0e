package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the previous and the freshly loaded config.
type ReloadFunc func(prev, next *Config)

// Watcher reloads the config file when it changes on disk. Bursts of
// events are collapsed by a debounce timer; a file that fails to load or
// validate is logged and the previous config stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu       sync.Mutex
	current  *Config
	handlers []ReloadFunc
}

// NewWatcher watches path, starting from cur.
func NewWatcher(path string, cur *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: 300 * time.Millisecond,
		fs:       fw,
		current:  cur,
	}, nil
}

// OnReload registers fn for every successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches until ctx is done. Editors that replace the file on save are
// handled by watching the parent directory.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	slog.Info("config watcher started", "path", w.path)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("config watcher stopped")
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	handlers := append([]ReloadFunc(nil), w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		h(prev, next)
	}
	slog.Info("config reloaded", "path", w.path)
}
