package policy

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the active policy. The Watcher implements it with hot
// reload; Static pins one policy for the lifetime of a CLI invocation.
type Source interface {
	Current() *Policy
}

// Static is a fixed policy source.
type Static struct{ Policy *Policy }

// Current returns the pinned policy.
func (s Static) Current() *Policy { return s.Policy }

// Watcher hot-reloads policy.json and hands the active policy to the
// server without a restart. The policy file is replaced by rename, so the
// watcher listens on the parent directory.
type Watcher struct {
	path    string
	mu      sync.RWMutex
	current *Policy
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the policy at path and starts watching for changes.
func NewWatcher(path string) (*Watcher, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, current: p, watcher: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// Current returns the active policy.
func (w *Watcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	_ = w.watcher.Close()
}

func (w *Watcher) run() {
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			p, err := Load(w.path)
			if err != nil {
				slog.Warn("policy reload failed, keeping previous policy", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			w.current = p
			w.mu.Unlock()
			slog.Info("policy reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("policy watcher error", "error", err)
		}
	}
}
