package adminapi

import (
	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/gateway"
)

// DefaultFallbacks returns the built-in safe payloads, most specific first.
func DefaultFallbacks() []gateway.Fallback {
	return []gateway.Fallback{
		{Match: "/notifications/unread-count", Payload: []byte(`{"unreadCount":0}`)},
		{Match: "/notifications", Payload: []byte(`{"notifications":[],"unreadCount":0,"total":0}`)},
		{Match: "/dashboard/stats", Payload: []byte(`{"totalUsers":0,"totalJobs":0,"activeJobs":0,"totalApplications":0,"pendingApplications":0}`)},
		{Match: "/applications", Payload: []byte(`{"applications":[],"total":0,"page":1,"totalPages":0}`)},
		{Match: "/jobs", Payload: []byte(`{"jobs":[],"total":0,"page":1,"totalPages":0}`)},
		{Match: "/health", Payload: []byte(`{"status":"unknown"}`)},
	}
}

// NewFallbackTable builds the lookup table: configured entries first, then
// the defaults.
func NewFallbackTable(configured []config.FallbackConfig) (*gateway.FallbackTable, error) {
	extra, err := gateway.FallbacksFromConfig(configured)
	if err != nil {
		return nil, err
	}
	return gateway.NewFallbackTable(append(extra, DefaultFallbacks()...)...), nil
}
