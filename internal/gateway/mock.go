package gateway

import (
	"context"
	"sync"
)

// MockResult is one scripted transport result.
type MockResult struct {
	Response *Response
	Err      error
}

// Reply scripts a response with the given status and body.
func Reply(status int, body string) MockResult {
	return MockResult{Response: &Response{StatusCode: status, Body: []byte(body)}}
}

// Fail scripts a transport error.
func Fail(err error) MockResult {
	return MockResult{Err: err}
}

// MockTransport is a scripted Transport for tests.
// Results are consumed in order; the last one repeats once the script is
// exhausted. Routes, when set for an endpoint, take precedence.
type MockTransport struct {
	mu     sync.Mutex
	script []MockResult
	next   int
	routes map[string][]MockResult
	calls  []Request

	// Hook, if set, runs before each call returns.
	Hook func(ctx context.Context, req *Request)
}

// NewMockTransport creates a MockTransport with the given script.
func NewMockTransport(script ...MockResult) *MockTransport {
	return &MockTransport{
		script: script,
		routes: make(map[string][]MockResult),
	}
}

// Route scripts results for one exact endpoint.
func (m *MockTransport) Route(endpoint string, results ...MockResult) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[endpoint] = results
	return m
}

// Do records the call and returns the next scripted result.
func (m *MockTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *req)
	result := m.pick(req.Endpoint)
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result.Response, result.Err
}

func (m *MockTransport) pick(endpoint string) MockResult {
	if results, ok := m.routes[endpoint]; ok && len(results) > 0 {
		r := results[0]
		if len(results) > 1 {
			m.routes[endpoint] = results[1:]
		}
		return r
	}
	if len(m.script) == 0 {
		return Reply(200, "{}")
	}
	r := m.script[min(m.next, len(m.script)-1)]
	m.next++
	return r
}

// Calls returns a copy of the recorded requests.
func (m *MockTransport) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns the number of recorded requests.
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsTo returns how many requests hit endpoint.
func (m *MockTransport) CallsTo(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Endpoint == endpoint {
			n++
		}
	}
	return n
}
