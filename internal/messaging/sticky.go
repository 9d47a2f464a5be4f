package messaging

import (
	"container/list"
	"sync"
	"time"
)

// Sticky-set defaults.
const (
	DefaultStickyCapacity = 1000
	DefaultStickyTTL      = time.Hour
)

type stickyEntry struct {
	chatID  string
	addedAt time.Time
}

// stickySet remembers chats whose primary-channel delivery failed. Entries
// expire ttl after the failure that added them; at capacity the least
// recently used entry is evicted.
type stickySet struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

func newStickySet(capacity int, ttl time.Duration, now func() time.Time) *stickySet {
	if capacity <= 0 {
		capacity = DefaultStickyCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &stickySet{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (s *stickySet) expired(e *stickyEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.addedAt) >= s.ttl
}

// Contains reports whether chatID is sticky, refreshing its recency.
func (s *stickySet) Contains(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[chatID]
	if !ok {
		return false
	}
	if s.expired(el.Value.(*stickyEntry)) {
		s.removeElement(el)
		return false
	}
	s.order.MoveToFront(el)
	return true
}

// Add marks chatID sticky. It returns the chat evicted to make room, if any.
func (s *stickySet) Add(chatID string) (evicted string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[chatID]; ok {
		el.Value.(*stickyEntry).addedAt = s.now()
		s.order.MoveToFront(el)
		return ""
	}
	s.items[chatID] = s.order.PushFront(&stickyEntry{chatID: chatID, addedAt: s.now()})
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		evicted = oldest.Value.(*stickyEntry).chatID
		s.removeElement(oldest)
	}
	return evicted
}

// Remove drops chatID and reports whether it was present.
func (s *stickySet) Remove(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[chatID]
	if ok {
		s.removeElement(el)
	}
	return ok
}

// Clear drops every entry and returns how many there were.
func (s *stickySet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.order.Len()
	s.order.Init()
	s.items = make(map[string]*list.Element)
	return n
}

// Len returns the number of live entries, pruning expired ones.
func (s *stickySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el.Value.(*stickyEntry)) {
			s.removeElement(el)
		}
		el = prev
	}
	return s.order.Len()
}

func (s *stickySet) removeElement(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*stickyEntry).chatID)
}
