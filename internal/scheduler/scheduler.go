// Package scheduler runs periodic housekeeping jobs for ReplyPipe.
//
// Jobs are registered with cron expressions or descriptors such as "@every 5m".
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultReapSpec is how often expired appointment sessions are swept.
const DefaultReapSpec = "@every 5m"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// 5-field cron (min, hour, dom, month, dow) plus @every / @hourly descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweeper discards expired state and reports what is left.
type Sweeper interface {
	Sweep() int
	Len() int
}

// SweepObserver is told about every sweep.
type SweepObserver interface {
	SessionsSwept(removed, remaining int)
}

// ReapSessions returns a job that sweeps expired sessions once.
// obs may be nil.
func ReapSessions(sw Sweeper, obs SweepObserver) func() {
	return func() {
		removed := sw.Sweep()
		remaining := sw.Len()
		slog.Debug("Scheduler.ReapSessions: sweep finished", "removed", removed, "remaining", remaining)
		if obs != nil {
			obs.SessionsSwept(removed, remaining)
		}
	}
}

// ScheduleSessionReaper registers ReapSessions under spec, or DefaultReapSpec when spec is empty.
func (s *Scheduler) ScheduleSessionReaper(spec string, sw Sweeper, obs SweepObserver) error {
	if spec == "" {
		spec = DefaultReapSpec
	}
	if err := s.AddJob(spec, ReapSessions(sw, obs)); err != nil {
		return err
	}
	slog.Info("Scheduler.ScheduleSessionReaper: session reaper scheduled", "spec", spec)
	return nil
}
