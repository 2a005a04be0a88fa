package gateway

import (
	"testing"

	"github.com/npratt/dashlink/internal/config"
)

func TestFallbackTableLookup(t *testing.T) {
	table := NewFallbackTable(
		Fallback{Match: "/notifications/unread-count", Payload: []byte(`{"unreadCount":0}`)},
		Fallback{Match: "/notifications", Payload: []byte(`{"notifications":[]}`)},
		Fallback{Match: "/jobs", Payload: []byte(`{"jobs":[]}`)},
	)

	tests := []struct {
		endpoint string
		want     string
	}{
		{"/api/notifications/unread-count", `{"unreadCount":0}`},
		{"/api/notifications?page=1&limit=20", `{"notifications":[]}`},
		{"/api/jobs/admin?page=2", `{"jobs":[]}`},
		{"/api/payroll", ""},
	}

	for _, tt := range tests {
		got := table.Lookup(tt.endpoint)
		if string(got) != tt.want {
			t.Errorf("Lookup(%q) = %s, want %s", tt.endpoint, got, tt.want)
		}
	}
}

func TestFallbackTableLookupReturnsCopy(t *testing.T) {
	table := NewFallbackTable(Fallback{Match: "/jobs", Payload: []byte(`{"jobs":[]}`)})

	got := table.Lookup("/api/jobs")
	got[0] = 'X'

	if string(table.Lookup("/api/jobs")) != `{"jobs":[]}` {
		t.Error("mutating a lookup result must not change the table")
	}
}

func TestFallbackTableNil(t *testing.T) {
	var table *FallbackTable
	if table.Lookup("/api/jobs") != nil {
		t.Error("nil table should have no entries")
	}
	if table.Len() != 0 {
		t.Error("nil table Len should be 0")
	}
}

func TestFallbacksFromConfig(t *testing.T) {
	fbs, err := FallbacksFromConfig([]config.FallbackConfig{
		{Match: "/reports", Payload: map[string]any{"reports": []any{}}},
		{Match: "/payroll", Payload: nil},
	})
	if err != nil {
		t.Fatalf("FallbacksFromConfig: %v", err)
	}
	if len(fbs) != 2 {
		t.Fatalf("len = %d, want 2", len(fbs))
	}
	if string(fbs[0].Payload) != `{"reports":[]}` {
		t.Errorf("Payload[0] = %s", fbs[0].Payload)
	}
	if string(fbs[1].Payload) != `null` {
		t.Errorf("Payload[1] = %s, want null", fbs[1].Payload)
	}

	if _, err := FallbacksFromConfig([]config.FallbackConfig{
		{Match: "/bad", Payload: map[string]any{"ch": make(chan int)}},
	}); err == nil {
		t.Error("expected error for unencodable payload")
	}
}
