// Package realtime owns the single authenticated push channel per process.
// The Manager drives connect, bounded reconnect and teardown from auth
// state, and fans typed server events out to subscribers.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/dashlink/internal/auth"
	"github.com/npratt/dashlink/internal/backoff"
	"github.com/npratt/dashlink/internal/events"
)

// Default timeouts.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
)

// Transport noise reasons recorded in telemetry.
const (
	reasonConnectError    = "connect_error"
	reasonDisconnect      = "disconnect"
	reasonReconnectFailed = "reconnect_failed"
	reasonProbeFailed     = "health_probe"
)

// Conn is one live push connection.
// Close must be safe to call more than once and concurrently with Receive.
type Conn interface {
	Receive(ctx context.Context) (events.Message, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// ProbeFunc is the advisory liveness check run alongside the first dial.
type ProbeFunc func(ctx context.Context) error

// Manager is the realtime session state machine.
//
// All state is guarded by mu. Each connection lifecycle runs in its own
// goroutine tagged with a generation number; a goroutine whose generation
// is no longer current exits without touching state.
type Manager struct {
	dialer         Dialer
	policy         backoff.Policy
	sleep          backoff.SleepFunc
	probe          ProbeFunc
	probeTimeout   time.Duration
	connectTimeout time.Duration
	logger         *slog.Logger
	emitter        events.Emitter
	dispatcher     *events.Dispatcher

	mu       sync.Mutex
	phase    Phase
	since    time.Time
	token    string
	role     auth.Role
	attempt  int
	lastErr  string
	conn     Conn
	gen      uint64
	inflight bool
	cancel   context.CancelFunc
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEmitter sets where lifecycle telemetry is sent.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn backoff.SleepFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// WithProbe sets the advisory health probe and its timeout.
func WithProbe(fn ProbeFunc, timeout time.Duration) Option {
	return func(m *Manager) {
		m.probe = fn
		if timeout > 0 {
			m.probeTimeout = timeout
		}
	}
}

// WithConnectTimeout bounds each dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// New creates a Manager in the disconnected phase.
// policy.MaxAttempts bounds reconnect attempts after a failure.
func New(dialer Dialer, policy backoff.Policy, opts ...Option) *Manager {
	m := &Manager{
		dialer:         dialer,
		policy:         policy,
		sleep:          backoff.Sleep,
		probeTimeout:   DefaultProbeTimeout,
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
		phase:          PhaseDisconnected,
		since:          time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "realtime")
	m.dispatcher = events.NewDispatcher(m.logger)
	return m
}

// On subscribes fn to a server event type and returns its unsubscribe func.
// Handlers run synchronously on the connection goroutine in registration
// order. A handler registered after an event arrived never sees it.
func (m *Manager) On(eventType events.EventType, fn events.Handler) func() {
	off := m.dispatcher.On(eventType, fn)
	m.logger.Debug("handler registered", "event", eventType, "handlers", m.dispatcher.Count(eventType))
	return off
}

// HandleAuth re-evaluates the session for a new auth state.
func (m *Manager) HandleAuth(sess auth.Session) {
	m.EnsureConnected(sess.Token, sess.Role)
}

// EnsureConnected starts a session for an admin token. It never blocks on
// the network.
//
// It is a no-op while connecting, connected or backing off with the same
// token. A different token replaces the session. An empty token or a
// non-admin role tears the session down.
func (m *Manager) EnsureConnected(token string, role auth.Role) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var stale Conn
	var wasConnected bool

	if token == "" || !role.IsAdmin() {
		m.token, m.role = token, role
		stale, wasConnected = m.teardownLocked("not an authenticated admin")
		m.mu.Unlock()
		m.finishTeardown(stale, wasConnected)
		return
	}

	if m.phase != PhaseDisconnected {
		if token == m.token {
			m.role = role
			m.mu.Unlock()
			return
		}
		stale, wasConnected = m.teardownLocked("token changed")
	}

	if m.inflight {
		m.mu.Unlock()
		m.finishTeardown(stale, wasConnected)
		return
	}

	m.token, m.role = token, role
	m.attempt = 0
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.inflight = true
	m.setPhaseLocked(PhaseConnecting)

	m.wg.Add(1)
	go m.run(ctx, gen, token)
	if m.probe != nil {
		m.wg.Add(1)
		go m.runProbe(ctx)
	}
	m.mu.Unlock()

	m.finishTeardown(stale, wasConnected)
}

// Reconnect restarts the session with the last credentials, resetting the
// attempt budget.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	token, role := m.token, m.role
	m.mu.Unlock()

	m.Teardown()
	m.EnsureConnected(token, role)
}

// Teardown closes the connection and returns to disconnected.
// It is safe from any phase, repeatedly, and from inside a handler.
// It does not wait for the connection goroutine to exit.
func (m *Manager) Teardown() {
	m.mu.Lock()
	stale, wasConnected := m.teardownLocked("teardown")
	m.mu.Unlock()
	m.finishTeardown(stale, wasConnected)
}

// Close tears down and waits for every connection goroutine to exit.
// The Manager cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	stale, wasConnected := m.teardownLocked("close")
	m.mu.Unlock()
	m.finishTeardown(stale, wasConnected)

	m.wg.Wait()
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Phase:     m.phase,
		Attempt:   m.attempt,
		Since:     m.since,
		LastError: m.lastErr,
		Connected: m.phase == PhaseConnected,
		Role:      string(m.role),
	}
}

// Connected reports whether the session is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseConnected
}

// teardownLocked resets to disconnected and invalidates the running
// generation. It returns the connection to close once mu is released.
func (m *Manager) teardownLocked(reason string) (Conn, bool) {
	if m.phase == PhaseDisconnected && m.cancel == nil {
		return nil, false
	}

	wasConnected := m.phase == PhaseConnected
	conn := m.conn

	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.inflight = false
	m.attempt = 0
	m.logger.Debug("session torn down", "reason", reason)
	m.setPhaseLocked(PhaseDisconnected)

	return conn, wasConnected
}

func (m *Manager) finishTeardown(conn Conn, wasConnected bool) {
	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		m.dispatcher.Dispatch(events.EventDisconnected, nil)
	}
}

func (m *Manager) setPhaseLocked(p Phase) {
	if m.phase == p {
		return
	}
	from := m.phase
	m.phase = p
	m.since = time.Now()

	m.logger.Debug("session phase changed", "from", from, "to", p, "attempt", m.attempt)
	m.emit(&events.PhaseChangedEvent{
		BaseEvent: events.NewEvent(events.EventPhaseChanged, events.SourceRealtime),
		From:      string(from),
		To:        string(p),
		Attempt:   m.attempt,
	})
}

// run owns one session generation: dial, read, and bounded reconnect.
func (m *Manager) run(ctx context.Context, gen uint64, token string) {
	defer m.wg.Done()

	for {
		conn, err := m.dial(ctx, token)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}

		reason := reasonConnectError
		if err == nil {
			if !m.markConnected(gen, conn) {
				_ = conn.Close()
				return
			}
			m.dispatcher.Dispatch(events.EventConnected, nil)

			err = m.readLoop(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			reason = reasonDisconnect
		}

		delay, ok := m.handleFailure(gen, reason, err)
		if !ok {
			return
		}
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		if !m.beginAttempt(gen) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	return m.dialer.Dial(dctx, token)
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		switch msg.Event {
		case "", events.EventConnected, events.EventDisconnected:
			// Empty and reserved lifecycle names are not server events
			continue
		}
		m.dispatcher.Dispatch(msg.Event, msg.Data)
	}
}

func (m *Manager) markConnected(gen uint64, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false
	}
	m.conn = conn
	m.attempt = 0
	m.inflight = false
	m.lastErr = ""
	m.setPhaseLocked(PhaseConnected)
	m.logger.Info("realtime session connected", "role", m.role)
	return true
}

func (m *Manager) beginAttempt(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false
	}
	m.inflight = true
	m.setPhaseLocked(PhaseConnecting)
	return true
}

// handleFailure records transport noise and decides whether to back off.
// It never surfaces err beyond debug logging and telemetry.
func (m *Manager) handleFailure(gen uint64, reason string, err error) (time.Duration, bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return 0, false
	}

	wasConnected := m.phase == PhaseConnected
	m.conn = nil
	m.inflight = false
	m.attempt++
	if err != nil {
		m.lastErr = err.Error()
	}

	m.logger.Debug("realtime transport error", "reason", reason, "attempt", m.attempt, "error", err)
	m.emitTransportError(reason, m.lastErr, m.attempt)

	if m.attempt > m.policy.MaxAttempts {
		m.emitTransportError(reasonReconnectFailed, m.lastErr, m.attempt)
		m.logger.Debug("reconnect attempts exhausted", "max_attempts", m.policy.MaxAttempts)
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.setPhaseLocked(PhaseDisconnected)
		m.mu.Unlock()
		if wasConnected {
			m.dispatcher.Dispatch(events.EventDisconnected, nil)
		}
		return 0, false
	}

	// m.attempt failed dials so far; the next dial is attempt m.attempt+1.
	delay := m.policy.Delay(m.attempt)
	m.setPhaseLocked(PhaseBackoff)
	m.mu.Unlock()

	if wasConnected {
		m.dispatcher.Dispatch(events.EventDisconnected, nil)
	}
	return delay, true
}

func (m *Manager) runProbe(ctx context.Context) {
	defer m.wg.Done()

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.probe(pctx); err != nil && ctx.Err() == nil {
		m.logger.Debug("health probe failed", "error", err)
		m.emitTransportError(reasonProbeFailed, err.Error(), 0)
	}
}

func (m *Manager) emitTransportError(reason, msg string, attempt int) {
	m.emit(&events.TransportErrorEvent{
		BaseEvent: events.NewEvent(events.EventTransportError, events.SourceRealtime),
		Reason:    reason,
		Error:     msg,
		Attempt:   attempt,
	})
}

func (m *Manager) emit(e events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(e)
	}
}
