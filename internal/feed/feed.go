// Package feed holds the in-memory notification list and unread count fed by
// realtime pushes and full refetches.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/dashlink/internal/events"
)

// ErrNoID is returned when a pushed notification carries no id.
var ErrNoID = errors.New("notification has no id")

// Notification is one feed entry.
type Notification struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Read       bool            `json:"read"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Feed is a bounded newest-first notification list with an unread count.
// The list and the count change together under one lock.
type Feed struct {
	mu       sync.RWMutex
	items    []Notification
	unread   int
	maxItems int
	logger   *slog.Logger
	now      func() time.Time

	// Local changes are journaled while a refetch is open so ReplaceSince
	// can replay them over the server snapshot.
	seq     uint64
	syncs   int
	journal []change
}

type change struct {
	seq   uint64
	apply func()
}

// Checkpoint marks the point a refetch started from.
type Checkpoint struct {
	seq uint64
}

// New creates a Feed holding at most maxItems entries.
func New(maxItems int, logger *slog.Logger) *Feed {
	if maxItems < 1 {
		maxItems = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		maxItems: maxItems,
		logger:   logger.With("component", "feed"),
		now:      time.Now,
	}
}

type header struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
	Read    *bool  `json:"read"`
	IsRead  *bool  `json:"isRead"`
}

func parse(payload json.RawMessage, receivedAt time.Time) (Notification, error) {
	var h header
	if err := json.Unmarshal(payload, &h); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	id := h.ID
	if id == "" {
		id = h.MongoID
	}
	if id == "" {
		return Notification{}, ErrNoID
	}
	read := false
	switch {
	case h.Read != nil:
		read = *h.Read
	case h.IsRead != nil:
		read = *h.IsRead
	}
	return Notification{
		ID:         id,
		Payload:    append(json.RawMessage(nil), payload...),
		Read:       read,
		ReceivedAt: receivedAt,
	}, nil
}

// Add prepends a pushed notification and bumps the unread count when it is
// unread. A notification already in the feed is moved to the front.
func (f *Feed) Add(payload json.RawMessage) (Notification, error) {
	n, err := parse(payload, f.now())
	if err != nil {
		return Notification{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(n)
	f.recordLocked(func() { f.addLocked(n) })
	return n, nil
}

func (f *Feed) addLocked(n Notification) {
	if i := f.indexLocked(n.ID); i >= 0 {
		old := f.items[i]
		f.items = append(f.items[:i], f.items[i+1:]...)
		if !old.Read {
			f.unread--
		}
	}

	f.items = append([]Notification{n}, f.items...)
	if !n.Read {
		f.unread++
	}
	if len(f.items) > f.maxItems {
		f.items = f.items[:f.maxItems]
	}
	f.clampLocked()
}

// SetUnreadCount sets the unread count without touching the list.
// Negative values are treated as 0.
func (f *Feed) SetUnreadCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setUnreadLocked(n)
	f.recordLocked(func() { f.setUnreadLocked(n) })
}

func (f *Feed) setUnreadLocked(n int) {
	f.unread = n
	f.clampLocked()
}

// MarkRead marks one notification read. It reports whether the entry was
// found unread.
func (f *Feed) MarkRead(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := f.markReadLocked(id)
	f.recordLocked(func() { f.markReadLocked(id) })
	return found
}

func (f *Feed) markReadLocked(id string) bool {
	i := f.indexLocked(id)
	if i < 0 || f.items[i].Read {
		return false
	}
	f.items[i].Read = true
	f.unread--
	f.clampLocked()
	return true
}

// MarkAllRead marks every entry read and zeroes the count.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllReadLocked()
	f.recordLocked(f.markAllReadLocked)
}

func (f *Feed) markAllReadLocked() {
	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
}

// Remove deletes one entry.
func (f *Feed) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := f.removeLocked(id)
	f.recordLocked(func() { f.removeLocked(id) })
	return found
}

func (f *Feed) removeLocked(id string) bool {
	i := f.indexLocked(id)
	if i < 0 {
		return false
	}
	if !f.items[i].Read {
		f.unread--
	}
	f.items = append(f.items[:i], f.items[i+1:]...)
	f.clampLocked()
	return true
}

// recordLocked advances the change sequence and journals apply while a
// refetch is open.
func (f *Feed) recordLocked(apply func()) {
	f.seq++
	if f.syncs > 0 {
		f.journal = append(f.journal, change{seq: f.seq, apply: apply})
	}
}

// Replace swaps in a full refetch, given newest first, with the server's
// unread count. Entries without an id are skipped.
func (f *Feed) Replace(payloads []json.RawMessage, unread int) int {
	items := f.parseAll(payloads)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.setUnreadLocked(unread)
	return len(items)
}

// BeginSync opens a refetch. Every BeginSync must be paired with
// ReplaceSince or CancelSync.
func (f *Feed) BeginSync() Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return Checkpoint{seq: f.seq}
}

// CancelSync closes a refetch that produced nothing.
func (f *Feed) CancelSync(Checkpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSyncLocked()
}

// ReplaceSince closes the refetch opened at cp. It swaps in the snapshot like
// Replace, then replays every change made to the feed after cp, so pushes
// that arrived while the fetch was in flight survive it. keep runs under the
// feed lock; when it reports false the feed is left as it is and
// ReplaceSince returns false.
func (f *Feed) ReplaceSince(cp Checkpoint, payloads []json.RawMessage, unread int, keep func() bool) (int, bool) {
	items := f.parseAll(payloads)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.endSyncLocked()

	if keep != nil && !keep() {
		return len(f.items), false
	}
	f.items = items
	f.setUnreadLocked(unread)
	for _, c := range f.journal {
		if c.seq > cp.seq {
			c.apply()
		}
	}
	return len(f.items), true
}

func (f *Feed) endSyncLocked() {
	if f.syncs > 0 {
		f.syncs--
	}
	if f.syncs == 0 {
		f.journal = nil
	}
}

func (f *Feed) parseAll(payloads []json.RawMessage) []Notification {
	now := f.now()
	items := make([]Notification, 0, min(len(payloads), f.maxItems))
	for _, p := range payloads {
		if len(items) == f.maxItems {
			break
		}
		n, err := parse(p, now)
		if err != nil {
			f.logger.Debug("skipping notification", "error", err)
			continue
		}
		items = append(items, n)
	}
	return items
}

// Snapshot returns up to limit entries, newest first. limit <= 0 means all.
func (f *Feed) Snapshot(limit int) []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Notification, n)
	copy(out, f.items[:n])
	return out
}

// UnreadCount returns the unread count.
func (f *Feed) UnreadCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// Len returns the number of entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func (f *Feed) indexLocked(id string) int {
	for i, n := range f.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) clampLocked() {
	if f.unread < 0 {
		f.unread = 0
	}
}

// Subscriber registers server event handlers. *realtime.Manager implements it.
type Subscriber interface {
	On(eventType events.EventType, fn events.Handler) func()
}

// Bind wires the feed to new-notification and unread-count pushes and
// returns a function that unbinds both.
func (f *Feed) Bind(sub Subscriber) func() {
	offNew := sub.On(events.EventNewNotification, func(data json.RawMessage) {
		if _, err := f.Add(data); err != nil {
			f.logger.Debug("ignoring pushed notification", "error", err)
		}
	})
	offCount := sub.On(events.EventUnreadCount, func(data json.RawMessage) {
		n, err := ParseUnreadCount(data)
		if err != nil {
			f.logger.Debug("ignoring unread-count push", "error", err)
			return
		}
		f.SetUnreadCount(n)
	})
	return func() {
		offNew()
		offCount()
	}
}

// ParseUnreadCount reads {"unreadCount": N}, {"count": N} or a bare number.
func ParseUnreadCount(data json.RawMessage) (int, error) {
	var bare int
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	var body struct {
		UnreadCount *int `json:"unreadCount"`
		Count       *int `json:"count"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("decode unread count: %w", err)
	}
	switch {
	case body.UnreadCount != nil:
		return *body.UnreadCount, nil
	case body.Count != nil:
		return *body.Count, nil
	}
	return 0, errors.New("unread count missing")
}
