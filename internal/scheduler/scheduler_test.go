package scheduler

import (
	"sync"
	"testing"
)

type fakeSweeper struct {
	mu      sync.Mutex
	expired int
	live    int
	sweeps  int
}

func (f *fakeSweeper) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	n := f.expired
	f.expired = 0
	return n
}

func (f *fakeSweeper) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

type sweepRecorder struct {
	removed, remaining []int
}

func (r *sweepRecorder) SessionsSwept(removed, remaining int) {
	r.removed = append(r.removed, removed)
	r.remaining = append(r.remaining, remaining)
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("@every 5m", func() {}); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Expected 2 jobs, got %d", got)
	}
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("every five minutes", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Expected no jobs, got %d", got)
	}
}

func TestReapSessionsReportsSweep(t *testing.T) {
	sw := &fakeSweeper{expired: 3, live: 7}
	rec := &sweepRecorder{}

	job := ReapSessions(sw, rec)
	job()
	job()

	if sw.sweeps != 2 {
		t.Errorf("Expected 2 sweeps, got %d", sw.sweeps)
	}
	if len(rec.removed) != 2 || rec.removed[0] != 3 || rec.removed[1] != 0 {
		t.Errorf("Unexpected removed counts %v", rec.removed)
	}
	if rec.remaining[0] != 7 {
		t.Errorf("Expected 7 remaining, got %d", rec.remaining[0])
	}
}

func TestReapSessionsNilObserver(t *testing.T) {
	sw := &fakeSweeper{expired: 1}
	ReapSessions(sw, nil)()
	if sw.sweeps != 1 {
		t.Errorf("Expected sweep to run, got %d", sw.sweeps)
	}
}

func TestScheduleSessionReaperDefaultSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.ScheduleSessionReaper("", &fakeSweeper{}, nil); err != nil {
		t.Fatalf("Expected default spec to be valid, got %v", err)
	}
	if err := s.ScheduleSessionReaper("not a spec", &fakeSweeper{}, nil); err == nil {
		t.Error("Expected error for invalid spec")
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Expected 1 job, got %d", got)
	}
}
