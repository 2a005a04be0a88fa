package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/npratt/dashlink/internal/backoff"
	"github.com/npratt/dashlink/internal/events"
)

// Gateway performs REST calls with bounded retry and fallback substitution.
// It is safe for concurrent use; calls share no mutable state.
type Gateway struct {
	transport Transport
	policy    backoff.Policy
	fallbacks *FallbackTable
	sleep     backoff.SleepFunc
	logger    *slog.Logger
	emitter   events.Emitter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSleep replaces the sleep between attempts.
func WithSleep(fn backoff.SleepFunc) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// WithEmitter sets where retry and failure telemetry is sent.
func WithEmitter(e events.Emitter) Option {
	return func(g *Gateway) { g.emitter = e }
}

// New creates a Gateway. A policy with MaxAttempts < 1 behaves as 1.
func New(transport Transport, policy backoff.Policy, fallbacks *FallbackTable, opts ...Option) *Gateway {
	g := &Gateway{
		transport: transport,
		policy:    policy,
		fallbacks: fallbacks,
		sleep:     backoff.Sleep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway")
	return g
}

type callOptions struct {
	noRetry    bool
	noFallback bool
	header     http.Header
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// WithoutRetry makes a single attempt regardless of policy.
func WithoutRetry() CallOption {
	return func(o *callOptions) { o.noRetry = true }
}

// WithoutFallback leaves Payload nil on failure.
func WithoutFallback() CallOption {
	return func(o *callOptions) { o.noFallback = true }
}

// WithHeader adds a request header.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// Call performs method on endpoint and always returns an Outcome.
func (g *Gateway) Call(ctx context.Context, method, endpoint string, body any, opts ...CallOption) (out Outcome) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := g.policy.MaxAttempts
	if maxAttempts < 1 || o.noRetry {
		maxAttempts = 1
	}

	req := &Request{Method: method, Endpoint: endpoint, Body: body, Header: o.header}

	attempt := 0
	var lastErr error

	defer func() {
		if r := recover(); r != nil {
			lastErr = fmt.Errorf("transport panic: %v", r)
			out = g.fail(endpoint, lastErr, KindTransport, attempt, o.noFallback)
		}
	}()

	for attempt = 1; ; attempt++ {
		resp, err := g.transport.Do(ctx, req)
		if err == nil && resp == nil {
			err = &TransportError{Op: "request", Err: fmt.Errorf("empty response")}
		}
		if err == nil && resp.StatusCode >= 400 {
			err = NewStatusError(resp.StatusCode, resp.Body)
		}
		if err == nil {
			return success(resp.Body)
		}
		lastErr = err

		if ctx.Err() != nil {
			return g.fail(endpoint, err, KindCanceled, attempt, o.noFallback)
		}

		kind := Classify(err)
		if kind == KindConnectivity || kind == KindCanceled {
			return g.fail(endpoint, err, kind, attempt, o.noFallback)
		}
		if attempt >= maxAttempts {
			return g.fail(endpoint, err, kind, attempt, o.noFallback)
		}

		delay := g.policy.Delay(attempt)
		remaining := maxAttempts - attempt
		g.logger.Warn("request failed, retrying",
			"method", method,
			"endpoint", endpoint,
			"attempt", attempt,
			"attempts_remaining", remaining,
			"delay", delay,
			"error", err,
		)
		g.emit(&events.GatewayRetryEvent{
			BaseEvent:         events.NewEvent(events.EventGatewayRetry, events.SourceGateway),
			Endpoint:          endpoint,
			Attempt:           attempt,
			AttemptsRemaining: remaining,
			Delay:             delay,
			Error:             err.Error(),
		})

		if err := g.sleep(ctx, delay); err != nil {
			return g.fail(endpoint, lastErr, KindCanceled, attempt, o.noFallback)
		}
	}
}

func (g *Gateway) fail(endpoint string, err error, kind FailureKind, attempts int, noFallback bool) Outcome {
	f := &Failure{
		Message:    failureMessage(err),
		StatusCode: statusCode(err),
		Endpoint:   endpoint,
		Kind:       kind,
		Attempts:   attempts,
	}

	var payload []byte
	if !noFallback {
		payload = g.fallbacks.Lookup(endpoint)
	}

	switch kind {
	case KindConnectivity, KindCanceled:
		g.logger.Debug("request failed", "endpoint", endpoint, "kind", kind, "error", err)
	default:
		g.logger.Error("request failed",
			"endpoint", endpoint,
			"kind", kind,
			"status", f.StatusCode,
			"attempts", attempts,
			"message", f.Message,
			"fallback", payload != nil,
		)
	}
	g.emit(&events.GatewayFailureEvent{
		BaseEvent:  events.NewEvent(events.EventGatewayFailure, events.SourceGateway),
		Endpoint:   endpoint,
		Kind:       string(kind),
		StatusCode: f.StatusCode,
		Message:    f.Message,
		Attempts:   attempts,
		Fallback:   payload != nil,
	})

	return Outcome{
		OK:       false,
		Payload:  payload,
		Fallback: payload != nil,
		Failure:  f,
	}
}

func (g *Gateway) emit(e events.Event) {
	if g.emitter != nil {
		g.emitter.Emit(e)
	}
}

// Get performs a GET.
func (g *Gateway) Get(ctx context.Context, endpoint string, opts ...CallOption) Outcome {
	return g.Call(ctx, http.MethodGet, endpoint, nil, opts...)
}

// Post performs a POST with a JSON body.
func (g *Gateway) Post(ctx context.Context, endpoint string, body any, opts ...CallOption) Outcome {
	return g.Call(ctx, http.MethodPost, endpoint, body, opts...)
}

// Put performs a PUT with a JSON body.
func (g *Gateway) Put(ctx context.Context, endpoint string, body any, opts ...CallOption) Outcome {
	return g.Call(ctx, http.MethodPut, endpoint, body, opts...)
}

// Patch performs a PATCH with a JSON body.
func (g *Gateway) Patch(ctx context.Context, endpoint string, body any, opts ...CallOption) Outcome {
	return g.Call(ctx, http.MethodPatch, endpoint, body, opts...)
}

// Delete performs a DELETE.
func (g *Gateway) Delete(ctx context.Context, endpoint string, opts ...CallOption) Outcome {
	return g.Call(ctx, http.MethodDelete, endpoint, nil, opts...)
}
