// Package daemon exposes a running agent to the CLI through Unix socket RPC.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/npratt/dashlink/internal/auth"
	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/feed"
	"github.com/npratt/dashlink/internal/realtime"
)

// AgentStatus is the controller's state reported by the status method.
type AgentStatus struct {
	Realtime         realtime.Snapshot
	RealtimeEnabled  bool
	Authenticated    bool
	Role             auth.Role
	UnreadCount      int
	Notifications    int
	TelemetryDropped uint64
}

// Controller is the agent surface the daemon drives.
type Controller interface {
	Status() AgentStatus
	Notifications(limit int) ([]feed.Notification, int)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Reconnect() error
	Stop()
}

// Daemon serves control requests for one agent over a Unix socket.
type Daemon struct {
	controller Controller
	sockPath   string
	startTime  time.Time
	logger     *slog.Logger

	listener net.Listener
	running  bool
	mu       sync.RWMutex
}

// New creates a new Daemon with the given configuration and controller.
func New(cfg *config.Config, ctrl Controller, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		controller: ctrl,
		sockPath:   cfg.Paths.Socket,
		logger:     logger.With("component", "daemon"),
	}
}

// Running returns whether the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// StartTime returns when the daemon was started.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// SocketPath returns the Unix socket path.
func (d *Daemon) SocketPath() string {
	return d.sockPath
}
