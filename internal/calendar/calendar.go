// Package calendar defines the calendar collaborator used by the booking flow
// and provides a Google Calendar implementation of it.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// ErrCalendarNotReady is returned by a Port that has no usable backend.
var ErrCalendarNotReady = errors.New("calendar not ready")

// Port is the calendar collaborator consumed by the appointment flow.
type Port interface {
	// GetFreeSlots returns bookable slots of the given duration within [start, end).
	GetFreeSlots(ctx context.Context, start, end time.Time, duration time.Duration) ([]models.TimeSlot, error)
	// CreateAppointment books the appointment described by data.
	CreateAppointment(ctx context.Context, data models.AppointmentData) (models.AppointmentResult, error)
	// CancelAppointment removes a previously created appointment.
	CancelAppointment(ctx context.Context, appointmentID string) (bool, error)
	// IsReady reports whether the backend can be queried.
	IsReady() bool
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// WorkingHours is the daily window in which slots are offered.
type WorkingHours struct {
	StartHour int
	EndHour   int
	Step      time.Duration
	Location  *time.Location
}

// DefaultWorkingHours is 09:00-17:00 local time in 30-minute steps.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{StartHour: 9, EndHour: 17, Step: 30 * time.Minute, Location: time.Local}
}

func (w WorkingHours) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// Slots generates every slot of the given duration that fits inside the working
// window of day, skipping slots that start before notBefore.
func (w WorkingHours) Slots(day time.Time, duration time.Duration, notBefore time.Time) []models.TimeSlot {
	step := w.Step
	if step <= 0 {
		step = 30 * time.Minute
	}
	if duration <= 0 {
		duration = step
	}

	loc := w.location()
	d := day.In(loc)
	open := time.Date(d.Year(), d.Month(), d.Day(), w.StartHour, 0, 0, 0, loc)
	closing := time.Date(d.Year(), d.Month(), d.Day(), w.EndHour, 0, 0, 0, loc)

	var slots []models.TimeSlot
	for start := open; !start.Add(duration).After(closing); start = start.Add(step) {
		if start.Before(notBefore) {
			continue
		}
		slots = append(slots, models.NewTimeSlot(start, duration))
	}
	return slots
}

// SlotsBetween generates working slots for every day touched by [start, end).
func (w WorkingHours) SlotsBetween(start, end time.Time, duration time.Duration) []models.TimeSlot {
	loc := w.location()
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	var slots []models.TimeSlot
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, slot := range w.Slots(day, duration, start) {
			if slot.End.After(end) {
				break
			}
			slots = append(slots, slot)
		}
	}
	return slots
}

// SubtractBusy removes every slot that overlaps a busy interval widened by buffer
// on both sides. The input is not modified.
func SubtractBusy(slots []models.TimeSlot, busy []Interval, buffer time.Duration) []models.TimeSlot {
	if len(busy) == 0 {
		return append([]models.TimeSlot(nil), slots...)
	}

	widened := make([]Interval, 0, len(busy))
	for _, b := range busy {
		widened = append(widened, Interval{Start: b.Start.Add(-buffer), End: b.End.Add(buffer)})
	}
	sort.Slice(widened, func(i, j int) bool { return widened[i].Start.Before(widened[j].Start) })

	free := make([]models.TimeSlot, 0, len(slots))
	for _, slot := range slots {
		blocked := false
		for _, b := range widened {
			if !b.Start.Before(slot.End) {
				break
			}
			if slot.Overlaps(b.Start, b.End) {
				blocked = true
				break
			}
		}
		if !blocked {
			free = append(free, slot)
		}
	}
	return free
}
