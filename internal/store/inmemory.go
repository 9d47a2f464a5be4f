package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// InMemoryStore keeps everything in process memory. It is used when no DSN is
// configured and in tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	transfers    map[string]models.TransferRecord
	events       map[string][]TransferEvent
	appointments []AppointmentRecord
	inbound      map[string]DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transfers: make(map[string]models.TransferRecord),
		events:    make(map[string][]TransferEvent),
		inbound:   make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) SaveTransfer(ctx context.Context, rec *models.TransferRecord, ev TransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[rec.TransferID] = copyTransfer(*rec)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.TransferID = rec.TransferID
	s.events[rec.TransferID] = append(s.events[rec.TransferID], ev)
	return nil
}

func (s *InMemoryStore) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transfers[transferID]
	if !ok {
		return nil, nil
	}
	c := copyTransfer(rec)
	return &c, nil
}

func (s *InMemoryStore) QueryTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TransferRecord
	for _, rec := range s.transfers {
		if matchesFilter(rec, f) {
			out = append(out, copyTransfer(rec))
		}
	}
	sortTransfers(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListTransferEvents(ctx context.Context, transferID string) ([]TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TransferEvent(nil), s.events[transferID]...), nil
}

func (s *InMemoryStore) SaveAppointment(ctx context.Context, rec AppointmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = append(s.appointments, rec)
	return nil
}

func (s *InMemoryStore) ListAppointments(ctx context.Context, chatID string) ([]AppointmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AppointmentRecord
	for _, a := range s.appointments {
		if chatID == "" || a.ChatID == chatID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, ChatID: chatID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
		s.inbound[messageID] = rec
	}
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func matchesFilter(rec models.TransferRecord, f models.TransferFilter) bool {
	if f.ChatID != "" && rec.ChatID != f.ChatID {
		return false
	}
	if f.Reason != "" && rec.Reason != f.Reason {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if rec.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortTransfers(recs []models.TransferRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func copyTransfer(rec models.TransferRecord) models.TransferRecord {
	c := rec
	c.ConversationSnapshot = append([]models.ChatMessage(nil), rec.ConversationSnapshot...)
	if rec.Metadata != nil {
		c.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
