package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives the raw JSON payload of a server event.
type Handler func(data json.RawMessage)

type registration struct {
	id uint64
	fn Handler
}

// Dispatcher fans typed server events out to registered handlers.
// Handlers run synchronously on the dispatching goroutine, in registration
// order. Nothing is buffered: an event with no handlers is discarded.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
	nextID   uint64
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger uses slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[EventType][]registration),
		logger:   logger.With("component", "dispatcher"),
	}
}

// On registers fn for eventType and returns a function that removes it.
// The returned function is idempotent.
func (d *Dispatcher) On(eventType EventType, fn Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(eventType, id) })
	}
}

func (d *Dispatcher) remove(eventType EventType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[eventType]
	for i, r := range regs {
		if r.id == id {
			// Copy so a Dispatch iterating the old slice is unaffected
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(d.handlers, eventType)
			} else {
				d.handlers[eventType] = next
			}
			return
		}
	}
}

// Dispatch invokes every handler registered for eventType with data.
// It returns the number of handlers invoked. A panicking handler is
// recovered and logged; later handlers still run.
func (d *Dispatcher) Dispatch(eventType EventType, data json.RawMessage) int {
	d.mu.RLock()
	regs := d.handlers[eventType]
	d.mu.RUnlock()

	for _, r := range regs {
		d.invoke(eventType, r.fn, data)
	}
	return len(regs)
}

func (d *Dispatcher) invoke(eventType EventType, fn Handler, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event handler panicked", "event", eventType, "panic", rec)
		}
	}()
	fn(data)
}

// Count returns the number of handlers registered for eventType.
func (d *Dispatcher) Count(eventType EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}
