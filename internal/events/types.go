// Package events defines the event taxonomy for dashlink: the typed server
// events fanned out to subscribers by the Dispatcher, and the lifecycle
// telemetry carried by the Router to sinks.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the category and nature of an event.
type EventType string

// Server-pushed event types received over the realtime channel.
const (
	EventNewNotification EventType = "new-notification"
	EventUnreadCount     EventType = "unread-count"
	EventSystemMessage   EventType = "system-message"
)

// Session lifecycle events dispatched by the realtime manager itself.
const (
	EventConnected    EventType = "realtime.connected"
	EventDisconnected EventType = "realtime.disconnected"
)

// Telemetry event types emitted to the Router.
const (
	EventGatewayRetry      EventType = "gateway.retry"
	EventGatewayFailure    EventType = "gateway.failure"
	EventPhaseChanged      EventType = "realtime.phase"
	EventTransportError    EventType = "realtime.transport_error"
	EventAuthChanged       EventType = "auth.changed"
	EventNotificationsSync EventType = "feed.synced"
)

// Source constants identify the origin of events.
const (
	SourceGateway  = "gateway"
	SourceRealtime = "realtime"
	SourceAuth     = "auth"
	SourceInternal = "dashlink"
)

// Event is the base interface for all telemetry events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// GatewayRetryEvent is emitted before the gateway sleeps between attempts.
type GatewayRetryEvent struct {
	BaseEvent
	Endpoint          string        `json:"endpoint"`
	Attempt           int           `json:"attempt"`
	AttemptsRemaining int           `json:"attempts_remaining"`
	Delay             time.Duration `json:"delay"`
	Error             string        `json:"error"`
}

// GatewayFailureEvent is emitted when a gateway call produces a failure outcome.
type GatewayFailureEvent struct {
	BaseEvent
	Endpoint   string `json:"endpoint"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Attempts   int    `json:"attempts"`
	Fallback   bool   `json:"fallback"`
}

// PhaseChangedEvent is emitted on every realtime session phase transition.
type PhaseChangedEvent struct {
	BaseEvent
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt"`
}

// TransportErrorEvent records realtime transport noise (connect_error,
// disconnect, reconnect_failed). It is telemetry only, never an error.
type TransportErrorEvent struct {
	BaseEvent
	Reason  string `json:"reason"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// AuthChangedEvent is emitted when the auth session changes.
type AuthChangedEvent struct {
	BaseEvent
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role,omitempty"`
}

// NotificationsSyncedEvent is emitted after a full notification refetch.
type NotificationsSyncedEvent struct {
	BaseEvent
	Count    int  `json:"count"`
	Fallback bool `json:"fallback"`
}

// Message is a typed server event as received over the realtime channel.
type Message struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates a BaseEvent with the given type and source.
func NewEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       source,
	}
}
