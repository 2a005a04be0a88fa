package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Request is a single REST call.
type Request struct {
	Method   string
	Endpoint string
	Body     any
	Header   http.Header
}

// Response is a raw transport response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs one attempt of a request.
// Implementations return *ConnectivityError when no response was received
// and *TransportError for other failures; any status code is a Response.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TokenFunc returns the current bearer token, or "" when logged out.
type TokenFunc func() string

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	baseURL   string
	client    *http.Client
	timeout   time.Duration
	token     TokenFunc
	userAgent string
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(t *HTTPTransport) { t.userAgent = ua }
}

// NewHTTPTransport creates a transport rooted at baseURL.
// timeout bounds each attempt; token may be nil.
func NewHTTPTransport(baseURL string, timeout time.Duration, token TokenFunc, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	t := &HTTPTransport{
		baseURL:   strings.TrimRight(u.String(), "/"),
		client:    &http.Client{},
		timeout:   timeout,
		token:     token,
		userAgent: "dashlink",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Do performs one HTTP attempt.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &TransportError{Op: "encode body", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.resolve(req.Endpoint), body)
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &TransportError{Op: "read body", Err: err, Timeout: isTimeout(err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (t *HTTPTransport) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return t.baseURL + endpoint
}

func encodeBody(v any) (io.Reader, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// classifyNetError sorts a client.Do error into connectivity (no response)
// or transport (timeout and everything else). Caller cancellation passes
// through unwrapped.
func classifyNetError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTimeout(err) {
		return &TransportError{Op: "request", Err: err, Timeout: true}
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &ConnectivityError{Err: err}
	}
	return &TransportError{Op: "request", Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
