package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/npratt/dashlink/internal/config"
)

// Fallback is a safe default payload for endpoints containing Match.
type Fallback struct {
	Match   string
	Payload json.RawMessage
}

// FallbackTable maps endpoint substrings to default payloads.
// Lookup is first-match in table order, so more specific entries must come
// first. A table is not modified after construction.
type FallbackTable struct {
	entries []Fallback
}

// NewFallbackTable builds a table from entries in lookup order.
func NewFallbackTable(entries ...Fallback) *FallbackTable {
	return &FallbackTable{entries: append([]Fallback(nil), entries...)}
}

// Lookup returns a copy of the first payload whose Match is a substring of
// endpoint, or nil. A nil table has no entries.
func (t *FallbackTable) Lookup(endpoint string) json.RawMessage {
	if t == nil {
		return nil
	}
	for _, fb := range t.entries {
		if strings.Contains(endpoint, fb.Match) {
			return append(json.RawMessage(nil), fb.Payload...)
		}
	}
	return nil
}

// Len returns the number of entries.
func (t *FallbackTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// FallbacksFromConfig converts configured fallbacks, preserving order.
func FallbacksFromConfig(cfgs []config.FallbackConfig) ([]Fallback, error) {
	out := make([]Fallback, 0, len(cfgs))
	for i, c := range cfgs {
		payload, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("fallback %d (%s): %w", i, c.Match, err)
		}
		out = append(out, Fallback{Match: c.Match, Payload: payload})
	}
	return out, nil
}
