package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval is the time to wait for rapid file changes to settle.
const debounceInterval = 100 * time.Millisecond

// Watcher keeps a Store in sync with a session file.
// A missing file means logged out.
type Watcher struct {
	path   string
	store  *Store
	logger *slog.Logger

	running atomic.Bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, store *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   path,
		store:  store,
		logger: logger.With("component", "auth-watcher"),
	}
}

// Start loads the file once and then watches it in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return fmt.Errorf("watcher already running")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the parent directory since the file may not exist yet
	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.reload()

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.runLoop(fsWatcher)
	return nil
}

// Stop terminates the watcher and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running returns whether the watcher is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

func (w *Watcher) runLoop(fsWatcher *fsnotify.Watcher) {
	defer func() {
		_ = fsWatcher.Close()
		w.running.Store(false)
		close(w.done)
	}()

	w.logger.Info("watching session file", "path", w.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	target := filepath.Base(w.path)

	for {
		var fire <-chan time.Time
		if debounceTimer != nil {
			fire = debounceTimer.C
		}

		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(debounceInterval)
			} else {
				debounceTimer.Reset(debounceInterval)
			}

		case <-fire:
			debounceTimer = nil
			w.reload()

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("session file watcher error", "error", err)
		}
	}
}

// reload reads the file and pushes the result into the store.
// Parse errors keep the previous session.
func (w *Watcher) reload() {
	sess, err := LoadSessionFile(w.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if w.store.Clear() {
			w.logger.Info("session file removed, logged out", "path", w.path)
		}
	case err != nil:
		w.logger.Warn("failed to load session file", "path", w.path, "error", err)
	default:
		if w.store.Set(sess) {
			w.logger.Info("session changed", "authenticated", sess.IsAuthenticated(), "role", sess.Role)
		}
	}
}
