package adminapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/npratt/dashlink/internal/backoff"
	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/gateway"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestClient(t *testing.T, tr *gateway.MockTransport) *Client {
	t.Helper()
	table, err := NewFallbackTable(nil)
	if err != nil {
		t.Fatalf("NewFallbackTable: %v", err)
	}
	gw := gateway.New(tr,
		backoff.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		table,
		gateway.WithSleep(noSleep),
		gateway.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return New(gw)
}

func TestClientEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		call     func(*Client, context.Context) gateway.Outcome
		method   string
		endpoint string
	}{
		{"health", (*Client).Health, http.MethodGet, "/api/health"},
		{"stats", (*Client).Stats, http.MethodGet, "/api/admin/dashboard/stats"},
		{"applications", func(c *Client, ctx context.Context) gateway.Outcome { return c.Applications(ctx, 2, 10) },
			http.MethodGet, "/api/applications/admin?limit=10&page=2"},
		{"jobs default page", func(c *Client, ctx context.Context) gateway.Outcome { return c.Jobs(ctx, 0, 0) },
			http.MethodGet, "/api/jobs/admin?page=1"},
		{"notifications", func(c *Client, ctx context.Context) gateway.Outcome { return c.Notifications(ctx, 1, 20) },
			http.MethodGet, "/api/notifications?limit=20&page=1"},
		{"unread count", (*Client).UnreadCount, http.MethodGet, "/api/notifications/unread-count"},
		{"mark read", func(c *Client, ctx context.Context) gateway.Outcome { return c.MarkRead(ctx, "abc 1") },
			http.MethodPatch, "/api/notifications/abc%201/read"},
		{"mark all read", (*Client).MarkAllRead, http.MethodPatch, "/api/notifications/read-all"},
		{"delete", func(c *Client, ctx context.Context) gateway.Outcome { return c.DeleteNotification(ctx, "n9") },
			http.MethodDelete, "/api/notifications/n9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := gateway.NewMockTransport(gateway.Reply(200, `{}`))
			c := newTestClient(t, tr)

			if out := tt.call(c, context.Background()); !out.OK {
				t.Fatalf("unexpected failure: %+v", out.Failure)
			}
			calls := tr.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			if calls[0].Method != tt.method || calls[0].Endpoint != tt.endpoint {
				t.Errorf("got %s %s, want %s %s", calls[0].Method, calls[0].Endpoint, tt.method, tt.endpoint)
			}
		})
	}
}

func TestHealthDoesNotRetry(t *testing.T) {
	tr := gateway.NewMockTransport(gateway.Reply(500, `{}`))
	c := newTestClient(t, tr)

	out := c.Health(context.Background())
	if out.OK {
		t.Fatal("expected failure")
	}
	if tr.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", tr.CallCount())
	}
}

func TestFallbackOrdering(t *testing.T) {
	tr := gateway.NewMockTransport(gateway.Reply(500, `{}`))
	c := newTestClient(t, tr)

	unread := c.UnreadCount(context.Background())
	uc, ok := gateway.As[UnreadCount](unread)
	if !ok || uc.UnreadCount != 0 {
		t.Errorf("unread fallback = %s", unread.Payload)
	}

	list := c.Notifications(context.Background(), 1, 20)
	page, ok := gateway.As[NotificationPage](list)
	if !ok {
		t.Fatalf("notifications fallback = %s", list.Payload)
	}
	if page.Notifications == nil || len(page.Notifications) != 0 {
		t.Errorf("Notifications = %v, want empty list", page.Notifications)
	}
}

func TestConfiguredFallbacksWin(t *testing.T) {
	table, err := NewFallbackTable([]config.FallbackConfig{
		{Match: "/jobs", Payload: map[string]any{"jobs": []any{}, "source": "config"}},
	})
	if err != nil {
		t.Fatalf("NewFallbackTable: %v", err)
	}
	if got := string(table.Lookup("/api/jobs/admin")); got != `{"jobs":[],"source":"config"}` {
		t.Errorf("Lookup = %s, want configured payload", got)
	}
	if table.Len() != len(DefaultFallbacks())+1 {
		t.Errorf("Len = %d", table.Len())
	}
}

func TestDashboard_AllSucceed(t *testing.T) {
	tr := gateway.NewMockTransport().
		Route(PathStats, gateway.Reply(200, `{"totalJobs":3}`)).
		Route(PathApplications+"?limit=5&page=1", gateway.Reply(200, `{"applications":[{"id":"a1"}]}`)).
		Route(PathJobs+"?limit=5&page=1", gateway.Reply(200, `{"jobs":[{"id":"j1"}]}`)).
		Route(PathUnreadCount, gateway.Reply(200, `{"unreadCount":4}`))
	c := newTestClient(t, tr)

	d := c.Dashboard(context.Background())

	if d.Degraded {
		t.Errorf("Degraded = true, failures %+v", d.Failures)
	}
	if string(d.Stats) != `{"totalJobs":3}` {
		t.Errorf("Stats = %s", d.Stats)
	}
	if d.UnreadCount != 4 {
		t.Errorf("UnreadCount = %d, want 4", d.UnreadCount)
	}
	if tr.CallCount() != 4 {
		t.Errorf("calls = %d, want 4", tr.CallCount())
	}
}

func TestDashboard_PartialFailure(t *testing.T) {
	tr := gateway.NewMockTransport().
		Route(PathStats, gateway.Reply(200, `{"totalJobs":3}`)).
		Route(PathApplications+"?limit=5&page=1", gateway.Reply(500, `{"message":"boom"}`)).
		Route(PathJobs+"?limit=5&page=1", gateway.Fail(&gateway.ConnectivityError{Err: errors.New("refused")})).
		Route(PathUnreadCount, gateway.Reply(200, `{"unreadCount":2}`))
	c := newTestClient(t, tr)

	d := c.Dashboard(context.Background())

	if !d.Degraded {
		t.Error("Degraded = false, want true")
	}
	if string(d.Stats) != `{"totalJobs":3}` {
		t.Errorf("Stats = %s, want real payload", d.Stats)
	}
	if string(d.RecentApplications) != `{"applications":[],"total":0,"page":1,"totalPages":0}` {
		t.Errorf("RecentApplications = %s, want fallback", d.RecentApplications)
	}
	if string(d.RecentJobs) != `{"jobs":[],"total":0,"page":1,"totalPages":0}` {
		t.Errorf("RecentJobs = %s, want fallback", d.RecentJobs)
	}
	if d.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", d.UnreadCount)
	}

	var kinds []gateway.FailureKind
	for _, f := range d.Failures {
		kinds = append(kinds, f.Kind)
	}
	want := []gateway.FailureKind{gateway.KindStatus, gateway.KindConnectivity}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("failure kinds mismatch (-want +got):\n%s", diff)
	}
}
