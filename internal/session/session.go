// Package session stores the per-chat appointment booking state.
//
// A session is considered absent once it has been untouched for longer than the
// store's TTL; expiry is checked lazily on every access.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// DefaultTTL is how long an untouched session stays alive.
const DefaultTTL = 30 * time.Minute

// Store holds at most one AppointmentSession per chat id.
type Store interface {
	// Get returns the live session for chatID, or nil if none exists or it expired.
	Get(ctx context.Context, chatID string) (*models.AppointmentSession, error)
	// Save creates or replaces the session for its chat id.
	Save(ctx context.Context, s *models.AppointmentSession) error
	// Delete removes the session for chatID. Deleting a missing session is not an error.
	Delete(ctx context.Context, chatID string) error
}

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.AppointmentSession
	ttl      time.Duration
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*models.AppointmentSession),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the live session for chatID.
func (m *MemoryStore) Get(ctx context.Context, chatID string) (*models.AppointmentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[chatID]
	if !ok {
		return nil, nil
	}
	if s.Expired(m.now(), m.ttl) {
		delete(m.sessions, chatID)
		slog.Debug("MemoryStore.Get: session expired", "chatID", chatID, "state", s.State)
		return nil, nil
	}
	return clone(s), nil
}

// Save stores a copy of s.
func (m *MemoryStore) Save(ctx context.Context, s *models.AppointmentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ChatID] = clone(s)
	return nil
}

// Delete removes the session for chatID.
func (m *MemoryStore) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

// Sweep discards every expired session and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now, m.ttl) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("MemoryStore.Sweep: removed expired sessions", "count", removed, "remaining", len(m.sessions))
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func clone(s *models.AppointmentSession) *models.AppointmentSession {
	c := *s
	if s.Slots != nil {
		c.Slots = append([]models.TimeSlot(nil), s.Slots...)
	}
	if s.SelectedSlot != nil {
		slot := *s.SelectedSlot
		c.SelectedSlot = &slot
	}
	return &c
}
