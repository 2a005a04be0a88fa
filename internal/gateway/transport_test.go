package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHTTPTransport_Headers(t *testing.T) {
	var got *http.Request
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL+"/", time.Second, func() string { return "tok-123" })
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}

	resp, err := tr.Do(context.Background(), &Request{
		Method:   http.MethodPatch,
		Endpoint: "/api/notifications/n1/read",
		Body:     map[string]string{"read": "true"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if got.URL.Path != "/api/notifications/n1/read" {
		t.Errorf("path = %q", got.URL.Path)
	}
	if got.Method != http.MethodPatch {
		t.Errorf("method = %q", got.Method)
	}
	if h := got.Header.Get("Authorization"); h != "Bearer tok-123" {
		t.Errorf("Authorization = %q", h)
	}
	if h := got.Header.Get("Content-Type"); h != "application/json" {
		t.Errorf("Content-Type = %q", h)
	}
	if _, err := uuid.Parse(got.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID is not a uuid: %v", err)
	}
	if gotBody["read"] != "true" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestHTTPTransport_NoTokenNoAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport(srv.URL, time.Second, func() string { return "" })
	if _, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "api/health"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestHTTPTransport_StatusIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token expired"}`))
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport(srv.URL, time.Second, nil)
	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/api/jobs"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr, _ := NewHTTPTransport(url, time.Second, nil)
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/api/health"})

	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v (%T), want *ConnectivityError", err, err)
	}
	if Classify(err) != KindConnectivity {
		t.Errorf("Classify = %q", Classify(err))
	}
}

func TestHTTPTransport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport(srv.URL, 20*time.Millisecond, nil)
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/slow"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v (%T), want *TransportError", err, err)
	}
	if !te.Timeout {
		t.Error("Timeout = false, want true")
	}
	if Classify(err) != KindTransport {
		t.Errorf("Classify = %q, want transport", Classify(err))
	}
}

func TestHTTPTransport_CallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	tr, _ := NewHTTPTransport(srv.URL, time.Second, nil)
	_, err := tr.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/hang"})
	if Classify(err) != KindCanceled {
		t.Errorf("Classify(%v) = %q, want canceled", err, Classify(err))
	}
}

func TestNewHTTPTransport_RejectsBadScheme(t *testing.T) {
	if _, err := NewHTTPTransport("ftp://example.com", time.Second, nil); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestGatewayOverHTTP(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"count":7}`))
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport(srv.URL, time.Second, nil)
	g, rec := newTestGateway(tr, nil)

	out := g.Get(context.Background(), "/api/notifications/unread-count")
	if !out.OK {
		t.Fatalf("expected success on third attempt, got %+v", out.Failure)
	}
	if calls != 3 {
		t.Errorf("server calls = %d, want 3", calls)
	}
	if len(rec.delays) != 2 {
		t.Errorf("sleeps = %v, want 2", rec.delays)
	}
}
