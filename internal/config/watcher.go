package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
)

// Watcher reloads the config file on change and hands the result to a
// callback. Editors write configs as several quick events, so changes are
// debounced.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}

	mu           sync.Mutex
	pendingTimer *time.Timer
}

const watchDebounce = 500 * time.Millisecond

// NewWatcher watches path and calls onChange with each successfully
// reloaded config.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}
	go w.loop()
	L_debug("config: watching", "path", path)
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watch error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(watchDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		L_warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	L_info("config: reloaded", "path", w.path)
	w.onChange(cfg)
}

// Stop ends watching. Safe to call once.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.mu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()
}
