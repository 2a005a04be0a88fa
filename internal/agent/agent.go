// Package agent composes the gateway, the realtime session, the notification
// feed and the auth signal into one long-running process that the control
// daemon drives.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/npratt/dashlink/internal/adminapi"
	"github.com/npratt/dashlink/internal/auth"
	"github.com/npratt/dashlink/internal/backoff"
	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/daemon"
	"github.com/npratt/dashlink/internal/events"
	"github.com/npratt/dashlink/internal/feed"
	"github.com/npratt/dashlink/internal/gateway"
	"github.com/npratt/dashlink/internal/realtime"
)

// Errors returned by control operations.
var (
	ErrRealtimeDisabled = errors.New("realtime is disabled")
	ErrNotAdmin         = errors.New("realtime requires an authenticated admin session")
	ErrAlreadyRunning   = errors.New("agent already running")
)

// Agent owns every component for one admin session.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	router  *events.Router
	sink    *events.LogSink
	store   *auth.Store
	watcher *auth.Watcher
	gateway *gateway.Gateway
	api     *adminapi.Client
	manager *realtime.Manager
	feed    *feed.Feed

	transport gateway.Transport
	dialer    realtime.Dialer
	sleep     backoff.SleepFunc

	mu      sync.Mutex
	running bool
	ctx     context.Context

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t gateway.Transport) Option {
	return func(a *Agent) { a.transport = t }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

// WithSleep replaces the backoff sleep for both retry loops.
func WithSleep(fn backoff.SleepFunc) Option {
	return func(a *Agent) { a.sleep = fn }
}

// New builds an Agent from cfg. Nothing touches the network until Run.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Agent{
		cfg:    cfg,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.router = events.NewRouter(events.DefaultBufferSize, a.logger)
	if cfg.Paths.Telemetry != "" {
		a.sink = events.NewLogSink(cfg.Paths.Telemetry, cfg.LogRotation, a.logger)
	}

	a.store = auth.NewStore(a.initialSession(), a.router)
	if cfg.Auth.SessionFile != "" {
		a.watcher = auth.NewWatcher(cfg.Auth.SessionFile, a.store, a.logger)
	}

	if a.transport == nil {
		tr, err := gateway.NewHTTPTransport(cfg.API.BaseURL, cfg.API.Timeout, a.store.Token)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		a.transport = tr
	}

	table, err := adminapi.NewFallbackTable(cfg.API.Fallbacks)
	if err != nil {
		return nil, fmt.Errorf("build fallbacks: %w", err)
	}
	a.logger.Debug("fallback table built", "entries", table.Len(), "configured", len(cfg.API.Fallbacks))
	a.gateway = gateway.New(a.transport, backoff.FromConfig(cfg.API.Retry), table,
		gateway.WithLogger(a.logger),
		gateway.WithEmitter(a.router),
		gateway.WithSleep(a.sleep),
	)
	a.api = adminapi.New(a.gateway)
	a.feed = feed.New(cfg.Feed.MaxItems, a.logger)

	if cfg.Realtime.Enabled {
		if a.dialer == nil {
			url, err := cfg.RealtimeURL()
			if err != nil {
				return nil, err
			}
			a.dialer = realtime.NewWSDialer(url)
		}
		a.manager = realtime.New(a.dialer, backoff.FromConfig(cfg.Realtime.Reconnect),
			realtime.WithLogger(a.logger),
			realtime.WithEmitter(a.router),
			realtime.WithSleep(a.sleep),
			realtime.WithConnectTimeout(cfg.Realtime.ConnectTimeout),
			realtime.WithProbe(a.probe, cfg.Realtime.HealthTimeout),
		)
	}

	return a, nil
}

// initialSession is the session the agent starts with. A configured session
// file replaces the static token and role; an unreadable one starts logged out
// until the watcher sees a valid file.
func (a *Agent) initialSession() auth.Session {
	if path := a.cfg.Auth.SessionFile; path != "" {
		sess, err := auth.LoadSessionFile(path)
		if err != nil {
			a.logger.Debug("session file not loaded", "path", path, "error", err)
			return auth.Session{}
		}
		return sess
	}
	return auth.Session{
		Token: a.cfg.Auth.Token,
		Role:  auth.ParseRole(a.cfg.Auth.Role),
	}
}

// Run starts the agent and blocks until ctx is canceled or Stop is called.
// An Agent runs at most once.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.mu.Unlock()
	defer cancel()

	if a.sink != nil {
		if err := a.sink.Start(runCtx, a.router.Subscribe()); err != nil {
			return fmt.Errorf("start telemetry sink: %w", err)
		}
	}

	var unbind []func()
	if a.manager != nil {
		unbind = append(unbind,
			a.feed.Bind(a.manager),
			a.manager.On(events.EventConnected, a.onConnected),
		)
	}
	unbind = append(unbind, a.store.OnChange(a.handleAuth))

	a.handleAuth(a.store.Current())

	if a.watcher != nil {
		if err := a.watcher.Start(runCtx); err != nil {
			a.shutdown(cancel, unbind)
			return fmt.Errorf("start session watcher: %w", err)
		}
	}

	a.logger.Info("agent started",
		"api", a.cfg.API.BaseURL,
		"realtime", a.manager != nil,
		"authenticated", a.store.Current().IsAuthenticated(),
	)

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	}

	a.logger.Info("agent stopping")
	a.shutdown(cancel, unbind)
	a.logger.Info("agent stopped")
	return nil
}

// shutdown stops every component in dependency order.
func (a *Agent) shutdown(cancel context.CancelFunc, unbind []func()) {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("stop session watcher", "error", err)
		}
	}
	for _, off := range unbind {
		off()
	}
	if a.manager != nil {
		a.manager.Close()
	}
	cancel()
	a.wg.Wait()

	a.router.Close()
	if a.sink != nil {
		if err := a.sink.Stop(); err != nil {
			a.logger.Warn("stop telemetry sink", "error", err)
		}
	}
}

// Stop asks Run to return. It is safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// handleAuth reacts to a session change.
func (a *Agent) handleAuth(sess auth.Session) {
	if !sess.IsAuthenticated() {
		a.feed.Replace(nil, 0)
	}
	if a.manager != nil {
		a.manager.HandleAuth(sess)
	}

	// Without a live channel the connect hook never fires, so sync here
	realtimeSyncs := a.manager != nil && sess.Role.IsAdmin() && a.cfg.Feed.RefetchOnConnect
	if sess.IsAuthenticated() && !realtimeSyncs {
		a.syncAsync()
	}
}

func (a *Agent) onConnected(json.RawMessage) {
	if a.cfg.Feed.RefetchOnConnect {
		a.syncAsync()
	}
}

func (a *Agent) syncAsync() {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.Sync(ctx); err != nil {
			a.logger.Debug("notification sync failed", "error", err)
		}
	}()
}

// ErrSessionChanged is returned by Sync when the session changed while the
// fetch was in flight.
var ErrSessionChanged = errors.New("session changed during sync")

// Sync refetches the first notification page and replaces the feed.
// A failed fetch leaves the feed untouched.
func (a *Agent) Sync(ctx context.Context) (int, error) {
	token := a.store.Token()
	cp := a.feed.BeginSync()
	out := a.api.Notifications(ctx, 1, a.cfg.Feed.PageSize)
	if err := out.Err(); err != nil {
		a.feed.CancelSync(cp)
		a.router.Emit(&events.NotificationsSyncedEvent{
			BaseEvent: events.NewEvent(events.EventNotificationsSync, events.SourceInternal),
			Count:     a.feed.Len(),
			Fallback:  out.Fallback,
		})
		return 0, err
	}

	page, ok := gateway.As[adminapi.NotificationPage](out)
	if !ok {
		a.feed.CancelSync(cp)
		return 0, fmt.Errorf("decode notifications: unexpected payload %s", out.Payload)
	}

	n, applied := a.feed.ReplaceSince(cp, page.Notifications, page.UnreadCount, func() bool {
		return a.store.Token() == token
	})
	if !applied {
		return 0, ErrSessionChanged
	}
	a.router.Emit(&events.NotificationsSyncedEvent{
		BaseEvent: events.NewEvent(events.EventNotificationsSync, events.SourceInternal),
		Count:     n,
	})
	return n, nil
}

func (a *Agent) probe(ctx context.Context) error {
	return a.gateway.Get(ctx, a.cfg.Realtime.HealthEndpoint, gateway.WithoutRetry(), gateway.WithoutFallback()).Err()
}

// Status reports the agent state for the status method.
func (a *Agent) Status() daemon.AgentStatus {
	sess := a.store.Current()
	st := daemon.AgentStatus{
		Realtime:         realtime.Snapshot{Phase: realtime.PhaseDisconnected},
		RealtimeEnabled:  a.manager != nil,
		Authenticated:    sess.IsAuthenticated(),
		Role:             sess.Role,
		UnreadCount:      a.feed.UnreadCount(),
		Notifications:    a.feed.Len(),
		TelemetryDropped: a.router.Dropped(),
	}
	if a.manager != nil {
		st.Realtime = a.manager.Snapshot()
	}
	return st
}

// Notifications returns up to limit feed entries and the unread count.
func (a *Agent) Notifications(limit int) ([]feed.Notification, int) {
	return a.feed.Snapshot(limit), a.feed.UnreadCount()
}

// MarkRead marks one notification read on the backend, then in the feed.
func (a *Agent) MarkRead(ctx context.Context, id string) error {
	if err := a.api.MarkRead(ctx, id).Err(); err != nil {
		return err
	}
	a.feed.MarkRead(id)
	return nil
}

// MarkAllRead marks every notification read on the backend, then in the feed.
func (a *Agent) MarkAllRead(ctx context.Context) error {
	if err := a.api.MarkAllRead(ctx).Err(); err != nil {
		return err
	}
	a.feed.MarkAllRead()
	return nil
}

// Delete removes one notification on the backend, then from the feed.
func (a *Agent) Delete(ctx context.Context, id string) error {
	if err := a.api.DeleteNotification(ctx, id).Err(); err != nil {
		return err
	}
	a.feed.Remove(id)
	return nil
}

// Reconnect restarts the realtime session with a fresh attempt budget.
func (a *Agent) Reconnect() error {
	if a.manager == nil {
		return ErrRealtimeDisabled
	}
	sess := a.store.Current()
	if !sess.IsAuthenticated() || !sess.Role.IsAdmin() {
		return ErrNotAdmin
	}
	a.manager.Reconnect()
	return nil
}

// Store returns the auth store.
func (a *Agent) Store() *auth.Store {
	return a.store
}

// Feed returns the notification feed.
func (a *Agent) Feed() *feed.Feed {
	return a.feed
}

var _ daemon.Controller = (*Agent)(nil)
