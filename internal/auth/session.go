// Package auth holds the admin session signal that drives the realtime
// session manager and supplies the bearer token to the gateway.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/npratt/dashlink/internal/events"
)

// Role is the dashboard role of the logged-in account.
type Role string

// Role constants.
const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role may hold a realtime session.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ParseRole normalizes s into a Role. Unknown values map to RoleUser.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin, "superadmin", "super-admin":
		return RoleSuperAdmin
	default:
		return RoleUser
	}
}

// Session is the current auth state.
type Session struct {
	Token string          `json:"token"`
	Role  Role            `json:"role"`
	User  json.RawMessage `json:"user,omitempty"`
}

// IsAuthenticated reports whether the session carries a token.
func (s Session) IsAuthenticated() bool {
	return s.Token != ""
}

// Equal reports whether two sessions are the same auth state.
func (s Session) Equal(o Session) bool {
	return s.Token == o.Token && s.Role == o.Role && bytes.Equal(s.User, o.User)
}

// LoadSessionFile reads a session from a JSON file.
func LoadSessionFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var raw struct {
		Token string          `json:"token"`
		Role  string          `json:"role"`
		User  json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Session{}, fmt.Errorf("parse session file %s: %w", path, err)
	}
	return Session{
		Token: strings.TrimSpace(raw.Token),
		Role:  ParseRole(raw.Role),
		User:  raw.User,
	}, nil
}

// Listener is called with the new session after every change.
type Listener func(Session)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Store holds the current session and notifies listeners on change.
type Store struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	current   Session
	listeners []listenerEntry
	nextID    uint64
	emitter   events.Emitter
}

// NewStore creates a store with an initial session. emitter may be nil.
func NewStore(initial Session, emitter events.Emitter) *Store {
	return &Store{current: initial, emitter: emitter}
}

// Current returns the current session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the current bearer token. It satisfies gateway.TokenFunc.
func (s *Store) Token() string {
	return s.Current().Token
}

// Set replaces the session. Listeners run in registration order, outside
// the store lock, only when the session actually changed.
func (s *Store) Set(sess Session) bool {
	// Serializes notification so listeners observe changes in order
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.current.Equal(sess) {
		s.mu.Unlock()
		return false
	}
	s.current = sess
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.Emit(&events.AuthChangedEvent{
			BaseEvent:     events.NewEvent(events.EventAuthChanged, events.SourceAuth),
			Authenticated: sess.IsAuthenticated(),
			Role:          string(sess.Role),
		})
	}
	for _, l := range listeners {
		l.fn(sess)
	}
	return true
}

// Clear logs out.
func (s *Store) Clear() bool {
	return s.Set(Session{})
}

// OnChange registers fn and returns a function that removes it.
func (s *Store) OnChange(fn Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
