package daemon

import "github.com/npratt/dashlink/internal/feed"

// RPC method names.
const (
	MethodStatus        = "status"
	MethodNotifications = "notifications"
	MethodMarkRead      = "mark_read"
	MethodMarkAllRead   = "mark_all_read"
	MethodDelete        = "delete"
	MethodReconnect     = "reconnect"
	MethodStop          = "stop"
)

// Request represents a JSON-RPC request from a client.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// Response represents a JSON-RPC response to a client.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// StatusResponse contains daemon status information.
type StatusResponse struct {
	Phase            string `json:"phase"`
	Connected        bool   `json:"connected"`
	RealtimeEnabled  bool   `json:"realtime_enabled"`
	Attempt          int    `json:"attempt"`
	LastError        string `json:"last_error,omitempty"`
	PhaseSince       string `json:"phase_since,omitempty"`
	Authenticated    bool   `json:"authenticated"`
	Role             string `json:"role,omitempty"`
	UnreadCount      int    `json:"unread_count"`
	Notifications    int    `json:"notifications"`
	TelemetryDropped uint64 `json:"telemetry_dropped"`
	Uptime           string `json:"uptime"`
	StartTime        string `json:"start_time"`
}

// NotificationsParams contains parameters for the notifications method.
type NotificationsParams struct {
	Limit int `json:"limit,omitempty"`
}

// NotificationsResponse is the feed snapshot returned by the notifications method.
type NotificationsResponse struct {
	Notifications []feed.Notification `json:"notifications"`
	UnreadCount   int                 `json:"unread_count"`
}

// IDParams identifies one notification.
type IDParams struct {
	ID string `json:"id"`
}

// StopParams contains parameters for the stop method.
type StopParams struct {
	Force bool `json:"force,omitempty"`
}
