package messaging

import (
	"testing"
	"time"
)

func TestStickySetZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := newStickySet(10, 0, func() time.Time { return now })
	s.Add("a")
	now = now.Add(1000 * time.Hour)
	if !s.Contains("a") {
		t.Error("entry should not expire with zero ttl")
	}
}

func TestStickySetAddRefreshes(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := newStickySet(10, time.Hour, func() time.Time { return now })
	s.Add("a")
	now = now.Add(50 * time.Minute)
	s.Add("a")
	now = now.Add(50 * time.Minute)
	if !s.Contains("a") {
		t.Error("re-adding should restart the ttl")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
}

func TestStickySetLenPrunesExpired(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := newStickySet(10, time.Minute, func() time.Time { return now })
	s.Add("a")
	s.Add("b")
	now = now.Add(2 * time.Minute)
	s.Add("c")
	if got := s.Len(); got != 1 {
		t.Errorf("expected 1 live entry, got %d", got)
	}
	if !s.Remove("c") || s.Remove("c") {
		t.Error("Remove should report presence once")
	}
}

func TestStickySetEvictionReturnsOldest(t *testing.T) {
	s := newStickySet(2, time.Hour, nil)
	s.Add("a")
	s.Add("b")
	if ev := s.Add("c"); ev != "a" {
		t.Errorf("expected a evicted, got %q", ev)
	}
	if ev := s.Add("c"); ev != "" {
		t.Errorf("re-adding should not evict, got %q", ev)
	}
}
