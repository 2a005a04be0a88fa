package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// Emitter publishes telemetry events. The gateway and the realtime manager
// depend on this rather than on *Router.
type Emitter interface {
	Emit(event Event)
}

// Router carries telemetry from producers to sinks.
// Subscribers receive on buffered channels; a full channel drops the event
// rather than blocking the producer.
type Router struct {
	subscribers []chan Event
	bufferSize  int
	logger      *slog.Logger
	dropped     atomic.Uint64
	mu          sync.RWMutex
	closed      bool
}

// NewRouter creates a router with the given subscriber buffer size.
// If bufferSize is 0 or negative, DefaultBufferSize is used.
// A nil logger uses slog.Default().
func NewRouter(bufferSize int, logger *slog.Logger) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bufferSize: bufferSize,
		logger:     logger.With("component", "router"),
	}
}

// Emit publishes an event to all subscribers without blocking.
// Emit is safe to call concurrently, on a nil Router, and after Close.
func (r *Router) Emit(event Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			r.dropped.Add(1)
			r.logger.Warn("telemetry dropped: subscriber channel full",
				"event_type", event.Type(),
				"source", event.Source(),
			)
		}
	}
}

// Subscribe returns a channel that receives all emitted events.
// The returned channel is closed when the router is closed.
func (r *Router) Subscribe() <-chan Event {
	return r.SubscribeBuffered(r.bufferSize)
}

// SubscribeBuffered returns a channel with the specified buffer size.
func (r *Router) SubscribeBuffered(size int) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, size)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown or already removed channels are ignored.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Close closes all subscriber channels. Safe to call multiple times.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}
