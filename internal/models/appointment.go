package models

import "time"

// AppointmentState is a step of the booking conversation.
type AppointmentState string

// Appointment flow states.
const (
	AppointmentStateNone             AppointmentState = "NONE"
	AppointmentStateDetectingIntent  AppointmentState = "DETECTING_INTENT"
	AppointmentStateCollectingName   AppointmentState = "COLLECTING_NAME"
	AppointmentStateCollectingEmail  AppointmentState = "COLLECTING_EMAIL"
	AppointmentStateCollectingPhone  AppointmentState = "COLLECTING_PHONE"
	AppointmentStateCollectingReason AppointmentState = "COLLECTING_REASON"
	AppointmentStateCollectingDate   AppointmentState = "COLLECTING_DATE"
	AppointmentStateShowingSlots     AppointmentState = "SHOWING_SLOTS"
	AppointmentStateConfirming       AppointmentState = "CONFIRMING"
	AppointmentStateCompleted        AppointmentState = "COMPLETED"
	AppointmentStateCancelled        AppointmentState = "CANCELLED"
)

// IsTerminal reports whether the state ends the session.
func (s AppointmentState) IsTerminal() bool {
	return s == AppointmentStateCompleted || s == AppointmentStateCancelled
}

// AppointmentSession is the per-chat state of an in-progress booking.
type AppointmentSession struct {
	ChatID        string           `json:"chat_id"`
	State         AppointmentState `json:"state"`
	Name          string           `json:"name,omitempty"`
	Email         string           `json:"email,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	PreferredDate time.Time        `json:"preferred_date,omitempty"`
	Slots         []TimeSlot       `json:"slots,omitempty"`
	SelectedSlot  *TimeSlot        `json:"selected_slot,omitempty"`
	Retries       int              `json:"retries"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewAppointmentSession creates a session in DETECTING_INTENT.
func NewAppointmentSession(chatID string, now time.Time) *AppointmentSession {
	return &AppointmentSession{
		ChatID:    chatID,
		State:     AppointmentStateDetectingIntent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to the next state and resets the retry counter.
func (s *AppointmentSession) Advance(next AppointmentState, now time.Time) {
	s.State = next
	s.Retries = 0
	s.UpdatedAt = now
}

// Expired reports whether the session has been untouched for longer than ttl.
func (s *AppointmentSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.UpdatedAt) > ttl
}

// TimeSlot is a candidate appointment window. It is never mutated after generation.
type TimeSlot struct {
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
	Available bool          `json:"available"`
}

// NewTimeSlot builds an available slot of the given duration.
func NewTimeSlot(start time.Time, duration time.Duration) TimeSlot {
	return TimeSlot{Start: start, End: start.Add(duration), Duration: duration, Available: true}
}

// Overlaps reports whether the slot intersects [start, end).
func (t TimeSlot) Overlaps(start, end time.Time) bool {
	return t.Start.Before(end) && start.Before(t.End)
}

// AppointmentData is the booking request handed to the calendar collaborator.
type AppointmentData struct {
	ChatID      string    `json:"chat_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Reason      string    `json:"reason"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Timezone    string    `json:"timezone,omitempty"`
	Description string    `json:"description,omitempty"`
}

// AppointmentResult is the calendar collaborator's answer to a booking request.
type AppointmentResult struct {
	Success       bool      `json:"success"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	MeetingLink   string    `json:"meeting_link,omitempty"`
	CalendarLink  string    `json:"calendar_link,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
