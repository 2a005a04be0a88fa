package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/feed"
)

// fakeController records calls made through the daemon.
type fakeController struct {
	mu           sync.Mutex
	status       AgentStatus
	items        []feed.Notification
	unread       int
	marked       []string
	markedAll    int
	deleted      []string
	reconnects   int
	apiErr       error
	reconnectErr error
	lastLimit    int

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{stopped: make(chan struct{})}
}

func (f *fakeController) Status() AgentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Notifications(limit int) ([]feed.Notification, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	items := f.items
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, f.unread
}

func (f *fakeController) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiErr != nil {
		return f.apiErr
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeController) MarkAllRead(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiErr != nil {
		return f.apiErr
	}
	f.markedAll++
	return nil
}

func (f *fakeController) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiErr != nil {
		return f.apiErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeController) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.reconnects++
	return nil
}

func (f *fakeController) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

// configure mutates the fake under its lock.
func (f *fakeController) configure(fn func(f *fakeController)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// recorded returns copies of the recorded calls.
func (f *fakeController) recorded() (marked, deleted []string, markedAll, reconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...), append([]string(nil), f.deleted...), f.markedAll, f.reconnects
}

var _ Controller = (*fakeController)(nil)

var (
	errBackend     = errors.New("Unable to reach the server. Please check your connection.")
	errRealtimeOff = errors.New("realtime is disabled")
)

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Socket = "/tmp/test.sock"

	d := New(cfg, nil, nil)

	if d == nil {
		t.Fatal("New() returned nil")
	}
	if d.sockPath != cfg.Paths.Socket {
		t.Errorf("expected sockPath %s, got %s", cfg.Paths.Socket, d.sockPath)
	}
	if d.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
}

func TestNew_WithLogger(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	d := New(cfg, newFakeController(), logger)

	if d.logger == nil {
		t.Error("logger not set")
	}
	if d.controller == nil {
		t.Error("controller not set")
	}
}

func TestDaemon_RunningState(t *testing.T) {
	d := New(config.Default(), nil, nil)

	if d.Running() {
		t.Error("daemon should not be running initially")
	}
	if !d.StartTime().IsZero() {
		t.Error("StartTime() should be zero initially")
	}
}

func TestDaemon_ThreadSafety(t *testing.T) {
	d := startDaemon(t, newFakeController())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = d.Running()
				_ = d.StartTime()
			}
		}()
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	wg.Wait()

	if d.Running() {
		t.Error("daemon should not be running after Stop")
	}
}

func TestDaemon_DefaultSocketPath(t *testing.T) {
	cfg := config.Default()
	if cfg.Paths.Socket != ".dashlink/dashlink.sock" {
		t.Errorf("expected default socket path .dashlink/dashlink.sock, got %s", cfg.Paths.Socket)
	}

	d := New(cfg, nil, nil)
	if d.SocketPath() != cfg.Paths.Socket {
		t.Errorf("expected socket path %s, got %s", cfg.Paths.Socket, d.SocketPath())
	}
}
