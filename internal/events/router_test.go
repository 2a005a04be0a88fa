package events

import (
	"sync"
	"testing"
	"time"
)

func retryEvent(endpoint string) *GatewayRetryEvent {
	return &GatewayRetryEvent{
		BaseEvent: NewEvent(EventGatewayRetry, SourceGateway),
		Endpoint:  endpoint,
		Attempt:   1,
	}
}

func drain(ch <-chan Event) int {
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			return count
		}
	}
}

func TestNewRouter(t *testing.T) {
	t.Run("default buffer size", func(t *testing.T) {
		r := NewRouter(0, nil)
		if r.bufferSize != DefaultBufferSize {
			t.Errorf("expected buffer size %d, got %d", DefaultBufferSize, r.bufferSize)
		}
	})

	t.Run("negative buffer size uses default", func(t *testing.T) {
		r := NewRouter(-10, nil)
		if r.bufferSize != DefaultBufferSize {
			t.Errorf("expected buffer size %d, got %d", DefaultBufferSize, r.bufferSize)
		}
	})

	t.Run("custom buffer size", func(t *testing.T) {
		r := NewRouter(50, nil)
		if r.bufferSize != 50 {
			t.Errorf("expected buffer size 50, got %d", r.bufferSize)
		}
	})
}

func TestRouterEmitSubscribe(t *testing.T) {
	t.Run("single subscriber receives event", func(t *testing.T) {
		r := NewRouter(10, nil)
		defer r.Close()

		ch := r.Subscribe()
		r.Emit(retryEvent("/api/jobs"))

		select {
		case received := <-ch:
			retry, ok := received.(*GatewayRetryEvent)
			if !ok {
				t.Fatalf("expected *GatewayRetryEvent, got %T", received)
			}
			if retry.Endpoint != "/api/jobs" {
				t.Errorf("Endpoint = %q, want /api/jobs", retry.Endpoint)
			}
		case <-time.After(time.Second):
			t.Error("timeout waiting for event")
		}
	})

	t.Run("multiple subscribers each receive all events", func(t *testing.T) {
		r := NewRouter(10, nil)
		defer r.Close()

		subs := []<-chan Event{r.Subscribe(), r.Subscribe(), r.Subscribe()}
		for i := 0; i < 3; i++ {
			r.Emit(retryEvent("/api/stats"))
		}

		for i, ch := range subs {
			if got := drain(ch); got != 3 {
				t.Errorf("subscriber %d received %d events, want 3", i, got)
			}
		}
	})

	t.Run("nil router emit is safe", func(t *testing.T) {
		var r *Router
		r.Emit(retryEvent("/api/stats"))
	})
}

func TestRouterUnsubscribe(t *testing.T) {
	r := NewRouter(10, nil)
	defer r.Close()

	ch1 := r.Subscribe()
	ch2 := r.Subscribe()
	r.Unsubscribe(ch1)

	r.Emit(retryEvent("/api/stats"))

	if _, ok := <-ch1; ok {
		t.Error("expected ch1 to be closed")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Error("timeout waiting for event on ch2")
	}

	// Unknown channel is ignored
	r.Unsubscribe(make(chan Event))
}

func TestRouterClose(t *testing.T) {
	t.Run("close closes all subscriber channels", func(t *testing.T) {
		r := NewRouter(10, nil)
		ch1 := r.Subscribe()
		ch2 := r.Subscribe()

		r.Close()

		for i, ch := range []<-chan Event{ch1, ch2} {
			if _, ok := <-ch; ok {
				t.Errorf("expected channel %d to be closed", i)
			}
		}
	})

	t.Run("emit after close is no-op", func(t *testing.T) {
		r := NewRouter(10, nil)
		ch := r.Subscribe()
		r.Close()

		r.Emit(retryEvent("/api/stats"))

		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed, not receive event")
		}
	})

	t.Run("subscribe after close returns closed channel", func(t *testing.T) {
		r := NewRouter(10, nil)
		r.Close()

		if _, ok := <-r.Subscribe(); ok {
			t.Error("expected channel to be closed")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		r := NewRouter(10, nil)
		r.Subscribe()
		r.Close()
		r.Close()
	})
}

func TestRouterFullBufferDrops(t *testing.T) {
	r := NewRouter(2, nil)
	defer r.Close()

	ch := r.SubscribeBuffered(2)
	for i := 0; i < 10; i++ {
		r.Emit(retryEvent("/api/stats"))
	}

	if got := drain(ch); got != 2 {
		t.Errorf("expected 2 buffered events, got %d", got)
	}
	if got := r.Dropped(); got != 8 {
		t.Errorf("Dropped() = %d, want 8", got)
	}
}

func TestRouterConcurrency(t *testing.T) {
	r := NewRouter(100, nil)
	defer r.Close()

	subscribers := make([]<-chan Event, 10)
	for i := range subscribers {
		subscribers[i] = r.Subscribe()
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Emit(retryEvent("/api/stats"))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			r.Unsubscribe(r.Subscribe())
		}
	}()

	wg.Wait()

	for _, ch := range subscribers {
		drain(ch)
	}
}

func TestRouterPreservesOrder(t *testing.T) {
	r := NewRouter(10, nil)
	defer r.Close()

	ch := r.Subscribe()

	sent := []Event{
		&PhaseChangedEvent{BaseEvent: NewEvent(EventPhaseChanged, SourceRealtime), From: "disconnected", To: "connecting"},
		&TransportErrorEvent{BaseEvent: NewEvent(EventTransportError, SourceRealtime), Reason: "connect_error"},
		&GatewayFailureEvent{BaseEvent: NewEvent(EventGatewayFailure, SourceGateway), Endpoint: "/api/jobs"},
		&AuthChangedEvent{BaseEvent: NewEvent(EventAuthChanged, SourceAuth), Authenticated: true},
	}
	for _, e := range sent {
		r.Emit(e)
	}

	for i, expected := range sent {
		select {
		case received := <-ch:
			if received.Type() != expected.Type() {
				t.Errorf("event %d: expected type %s, got %s", i, expected.Type(), received.Type())
			}
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for event %d", i)
		}
	}
}
