package realtime

import "time"

// Phase is the session lifecycle state.
type Phase string

// Phase constants.
const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseBackoff      Phase = "backoff"
)

// Snapshot is a read-only view of the session state.
type Snapshot struct {
	Phase     Phase     `json:"phase"`
	Attempt   int       `json:"attempt"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Connected bool      `json:"connected"`
	Role      string    `json:"role,omitempty"`
}
