// Package gateway wraps every REST call to the admin backend. Call is total:
// it never returns an error or panics, and every failure becomes an Outcome
// carrying a message, a status code and, when one is registered, a fallback
// payload.
package gateway

import (
	"encoding/json"
	"errors"
)

// FailureKind classifies why a call failed.
type FailureKind string

// FailureKind constants.
const (
	KindConnectivity FailureKind = "connectivity"
	KindStatus       FailureKind = "status"
	KindTransport    FailureKind = "transport"
	KindCanceled     FailureKind = "canceled"
)

// Failure describes a failed call.
type Failure struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code"`
	Endpoint   string      `json:"endpoint"`
	Kind       FailureKind `json:"kind"`
	Attempts   int         `json:"attempts"`
}

// Error returns the user-facing message.
func (f *Failure) Error() string {
	return f.Message
}

// Outcome is the uniform result of a gateway call.
// OK=false always pairs with a non-nil Failure; OK=true never has one.
type Outcome struct {
	OK       bool            `json:"ok"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Fallback bool            `json:"fallback,omitempty"`
	Failure  *Failure        `json:"failure,omitempty"`
}

// Err returns the failure as an error, or nil when the call succeeded.
func (o Outcome) Err() error {
	if o.OK || o.Failure == nil {
		return nil
	}
	return o.Failure
}

// ErrNoPayload is returned by Decode when the outcome carries no payload.
var ErrNoPayload = errors.New("outcome has no payload")

// Decode unmarshals the payload (real or fallback) into v.
func (o Outcome) Decode(v any) error {
	if len(o.Payload) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(o.Payload, v)
}

// As decodes the outcome payload into a T.
// It reports false when there is no payload or it does not decode.
func As[T any](o Outcome) (T, bool) {
	var v T
	if err := o.Decode(&v); err != nil {
		return v, false
	}
	return v, true
}

func success(body []byte) Outcome {
	return Outcome{OK: true, Payload: asJSON(body)}
}

// asJSON keeps valid JSON bodies as-is and quotes anything else so the
// payload is always embeddable.
func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
