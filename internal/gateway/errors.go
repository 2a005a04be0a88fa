package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Messages used when no better one is available.
const (
	ConnectivityMessage = "Unable to reach the server. Please check your connection."
	DefaultMessage      = "An unexpected error occurred"
)

// ConnectivityError means the request never got a response: dial failure,
// DNS failure, refused or reset connection. It is never retried.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return "connectivity failure"
	}
	return "connectivity failure: " + e.Err.Error()
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError is a response with status >= 400.
type StatusError struct {
	StatusCode int
	// Message is the server-provided message, if the body carried one.
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// NewStatusError builds a StatusError, extracting the server message from a
// JSON body of the form {"message": "..."}, {"error": "..."} or
// {"error": {"message": "..."}}.
func NewStatusError(statusCode int, body []byte) *StatusError {
	return &StatusError{
		StatusCode: statusCode,
		Message:    serverMessage(body),
		Body:       body,
	}
}

// TransportError covers failures after a connection was made: timeouts,
// truncated or unreadable bodies, request encoding problems.
type TransportError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps an error from a transport attempt to its FailureKind.
// Unknown errors are transport failures and therefore retryable.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return KindConnectivity
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return KindStatus
	}
	return KindTransport
}

// failureMessage picks the user-facing message for err.
func failureMessage(err error) string {
	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return ConnectivityMessage
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return DefaultMessage
}

func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func serverMessage(body []byte) string {
	var parsed struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(parsed.Message); msg != "" {
		return msg
	}
	if len(parsed.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(parsed.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(parsed.Error, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}
