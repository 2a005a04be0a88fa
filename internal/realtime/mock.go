package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/npratt/dashlink/internal/events"
)

// ErrMockClosed is returned by MockConn.Receive after Close.
var ErrMockClosed = errors.New("mock connection closed")

// MockDialer is a scripted Dialer for tests.
type MockDialer struct {
	mu sync.Mutex

	// Delay is how long each dial takes before completing.
	Delay time.Duration
	// Errors fail the first len(Errors) dials in order; nil entries succeed.
	Errors []error
	// Gate, if set, blocks every dial until it is closed.
	Gate chan struct{}

	dials  int
	tokens []string
	conns  []*MockConn
}

// Dial records the call and returns a new MockConn or a scripted error.
func (d *MockDialer) Dial(ctx context.Context, token string) (Conn, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.tokens = append(d.tokens, token)
	var err error
	if n < len(d.Errors) {
		err = d.Errors[n]
	}
	delay, gate := d.Delay, d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := NewMockConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Dials returns how many dials were attempted.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Tokens returns the token passed to each dial.
func (d *MockDialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Conns returns the connections created so far.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockConn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// MockConn is an in-memory Conn driven by Push and Drop.
type MockConn struct {
	msgs    chan events.Message
	dropped chan error
	closed  chan struct{}
	once    sync.Once
}

// NewMockConn creates an open MockConn.
func NewMockConn() *MockConn {
	return &MockConn{
		msgs:    make(chan events.Message, 64),
		dropped: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Push queues a server event. data must be valid JSON or empty.
func (c *MockConn) Push(eventType events.EventType, data string) {
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	c.msgs <- events.Message{Event: eventType, Data: raw}
}

// Drop simulates the server ending the connection with err.
func (c *MockConn) Drop(err error) {
	select {
	case c.dropped <- err:
	default:
	}
}

// Receive returns the next queued event.
func (c *MockConn) Receive(ctx context.Context) (events.Message, error) {
	select {
	case <-ctx.Done():
		return events.Message{}, ctx.Err()
	case <-c.closed:
		return events.Message{}, ErrMockClosed
	case err := <-c.dropped:
		return events.Message{}, err
	case msg := <-c.msgs:
		return msg, nil
	}
}

// Close closes the connection. Safe to call repeatedly.
func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
