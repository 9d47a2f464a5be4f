package pipeline

import (
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// History defaults.
const (
	DefaultHistoryLimit = 20
	DefaultHistoryTTL   = 24 * time.Hour
)

type chatHistory struct {
	turns   []models.ChatMessage
	touched time.Time
}

// History keeps the most recent turns of every chat. Chats idle for longer
// than the TTL are dropped by Sweep. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	limit int
	ttl   time.Duration
	now   func() time.Time
	chats map[string]*chatHistory
}

// NewHistory creates a History keeping limit turns per chat for ttl after the
// chat's last turn. Non-positive values select the defaults.
func NewHistory(limit int, ttl time.Duration, now func() time.Time) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	if now == nil {
		now = time.Now
	}
	return &History{limit: limit, ttl: ttl, now: now, chats: make(map[string]*chatHistory)}
}

// Append adds msg to the chat, dropping the oldest turns beyond the limit.
func (h *History) Append(chatID string, msg models.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chats[chatID]
	if !ok {
		c = &chatHistory{}
		h.chats[chatID] = c
	}
	c.turns = append(c.turns, msg)
	if len(c.turns) > h.limit {
		c.turns = append([]models.ChatMessage(nil), c.turns[len(c.turns)-h.limit:]...)
	}
	c.touched = h.now()
}

// Get returns a copy of the chat's turns, oldest first. Expired chats read as empty.
func (h *History) Get(chatID string) []models.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chats[chatID]
	if !ok || h.expired(c, h.now()) {
		return nil
	}
	return append([]models.ChatMessage(nil), c.turns...)
}

func (h *History) expired(c *chatHistory, now time.Time) bool {
	return now.Sub(c.touched) > h.ttl
}

// Sweep drops idle chats and returns how many were removed.
func (h *History) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var n int
	for id, c := range h.chats {
		if h.expired(c, now) {
			delete(h.chats, id)
			n++
		}
	}
	return n
}

// Len returns the number of chats with history.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chats)
}
