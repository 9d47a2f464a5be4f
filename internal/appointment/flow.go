// Package appointment implements the conversational booking flow.
//
// A FlowManager intercepts messages for chats that are booking an appointment
// (or that just asked to) and walks them through name, e-mail, phone, reason,
// date, slot selection and confirmation. Each step validates its input and
// retries a bounded number of times before falling back to a default or
// ending the session with an apology. Every terminal outcome deletes the
// session.
package appointment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/calendar"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/session"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/util"
)

// Outcome labels how a finished session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeBooked    Outcome = "booked"
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// Reply is the flow's answer to one inbound message.
type Reply struct {
	// Text is the message to send back. Empty when Handled is false.
	Text string
	// Handled is false when the message is not part of a booking.
	Handled bool
	// Completed is true when this message ended the session.
	Completed bool
	// Outcome is set when Completed is true.
	Outcome Outcome
	// Appointment is set when a booking was created or recorded.
	Appointment *models.AppointmentResult
}

// Options configures the flow.
type Options struct {
	BusinessName string
	SkipEmail    bool
	AskPhone     bool
	MaxRetries   int
	SlotDuration time.Duration
	MaxSlots     int
	LeadTime     time.Duration
	SearchDays   int
	Hours        calendar.WorkingHours
	Lexicon      Lexicon
	Now          func() time.Time
	OnOutcome    func(Outcome)
}

// Option configures a FlowManager.
type Option func(*Options)

// WithBusinessName sets the name used in confirmations.
func WithBusinessName(name string) Option {
	return func(o *Options) { o.BusinessName = name }
}

// WithSkipEmail disables e-mail collection.
func WithSkipEmail(skip bool) Option {
	return func(o *Options) { o.SkipEmail = skip }
}

// WithAskPhone always asks for a phone number, even when the chat id carries one.
func WithAskPhone(ask bool) Option {
	return func(o *Options) { o.AskPhone = ask }
}

// WithMaxRetries bounds invalid answers per step.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRetries = n
		}
	}
}

// WithSlotDuration sets the appointment length.
func WithSlotDuration(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.SlotDuration = d
		}
	}
}

// WithWorkingHours sets the window used when no calendar is ready.
func WithWorkingHours(h calendar.WorkingHours) Option {
	return func(o *Options) { o.Hours = h }
}

// WithLexicon replaces the phrase tables.
func WithLexicon(l Lexicon) Option {
	return func(o *Options) { o.Lexicon = l }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithOutcomeHook is called once for every finished session.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(o *Options) { o.OnOutcome = fn }
}

// FlowManager runs the booking state machine. Calls for the same chat id must be
// serialized by the caller; different chats may be processed concurrently.
type FlowManager struct {
	sessions session.Store
	cal      calendar.Port
	recorder store.AppointmentRepo
	opts     Options
}

// NewFlowManager creates a flow manager. cal and recorder may be nil.
func NewFlowManager(sessions session.Store, cal calendar.Port, recorder store.AppointmentRepo, opts ...Option) *FlowManager {
	o := Options{
		BusinessName: "nuestro equipo",
		MaxRetries:   3,
		SlotDuration: 30 * time.Minute,
		MaxSlots:     8,
		LeadTime:     30 * time.Minute,
		SearchDays:   3,
		Hours:        calendar.DefaultWorkingHours(),
		Lexicon:      DefaultLexicon(),
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &FlowManager{sessions: sessions, cal: cal, recorder: recorder, opts: o}
}

// ProcessMessage advances the booking for chatID with the user's text.
func (m *FlowManager) ProcessMessage(ctx context.Context, chatID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	s, err := m.sessions.Get(ctx, chatID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load session for %s: %w", chatID, err)
	}

	if s == nil {
		if !m.opts.Lexicon.IsBookingIntent(text) {
			return Reply{}, nil
		}
		s = models.NewAppointmentSession(chatID, m.opts.Now())
		slog.Info("FlowManager.ProcessMessage: booking intent detected", "chatID", chatID)
		s.Advance(models.AppointmentStateCollectingName, m.opts.Now())
		return m.save(ctx, s, msgAskName)
	}

	if m.opts.Lexicon.IsCancel(text) {
		return m.finish(ctx, s, OutcomeCancelled, msgCancelled, nil)
	}

	slog.Debug("FlowManager.ProcessMessage: handling step", "chatID", chatID, "state", s.State, "retries", s.Retries)
	switch s.State {
	case models.AppointmentStateDetectingIntent, models.AppointmentStateCollectingName:
		return m.handleName(ctx, s, text)
	case models.AppointmentStateCollectingEmail:
		return m.handleEmail(ctx, s, text)
	case models.AppointmentStateCollectingPhone:
		return m.handlePhone(ctx, s, text)
	case models.AppointmentStateCollectingReason:
		return m.handleReason(ctx, s, text)
	case models.AppointmentStateCollectingDate:
		return m.handleDate(ctx, s, text)
	case models.AppointmentStateShowingSlots:
		return m.handleSlot(ctx, s, text)
	case models.AppointmentStateConfirming:
		return m.handleConfirm(ctx, s, text)
	default:
		// A terminal or unknown state should never be stored; drop it.
		slog.Warn("FlowManager.ProcessMessage: discarding session in unexpected state", "chatID", chatID, "state", s.State)
		if err := m.sessions.Delete(ctx, chatID); err != nil {
			return Reply{}, err
		}
		return Reply{}, nil
	}
}

// CancelSession ends any booking in progress for chatID without replying. It is
// a no-op when there is none.
func (m *FlowManager) CancelSession(ctx context.Context, chatID string) error {
	return m.sessions.Delete(ctx, chatID)
}

func (m *FlowManager) handleName(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	name := cleanName(text)
	if name == "" {
		return m.retry(ctx, s, msgRetryName, func() (Reply, error) {
			return m.finish(ctx, s, OutcomeAbandoned, msgGaveUp, nil)
		})
	}
	s.Name = name
	if m.opts.SkipEmail {
		return m.afterEmail(ctx, s)
	}
	s.Advance(models.AppointmentStateCollectingEmail, m.opts.Now())
	return m.save(ctx, s, fmt.Sprintf(msgAskEmail, firstName(name)))
}

func (m *FlowManager) handleEmail(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	if email := cleanEmail(text); email != "" {
		s.Email = email
		return m.afterEmail(ctx, s)
	}
	if m.opts.Lexicon.IsDecline(text) {
		return m.afterEmail(ctx, s)
	}
	return m.retry(ctx, s, msgRetryEmail, func() (Reply, error) {
		slog.Debug("FlowManager: skipping e-mail after retries", "chatID", s.ChatID)
		return m.afterEmail(ctx, s)
	})
}

func (m *FlowManager) afterEmail(ctx context.Context, s *models.AppointmentSession) (Reply, error) {
	if !m.opts.AskPhone {
		if phone := phoneFromChatID(s.ChatID); phone != "" {
			s.Phone = phone
			s.Advance(models.AppointmentStateCollectingReason, m.opts.Now())
			return m.save(ctx, s, msgAskReason)
		}
	}
	s.Advance(models.AppointmentStateCollectingPhone, m.opts.Now())
	return m.save(ctx, s, msgAskPhone)
}

func (m *FlowManager) handlePhone(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	if phone := cleanPhone(text); phone != "" {
		s.Phone = phone
		s.Advance(models.AppointmentStateCollectingReason, m.opts.Now())
		return m.save(ctx, s, msgAskReason)
	}
	return m.retry(ctx, s, msgRetryPhone, func() (Reply, error) {
		s.Phone = phoneFromChatID(s.ChatID)
		s.Advance(models.AppointmentStateCollectingReason, m.opts.Now())
		return m.save(ctx, s, msgAskReason)
	})
}

func (m *FlowManager) handleReason(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	if len([]rune(text)) >= 3 {
		s.Reason = text
		s.Advance(models.AppointmentStateCollectingDate, m.opts.Now())
		return m.save(ctx, s, msgAskDate)
	}
	return m.retry(ctx, s, msgRetryReason, func() (Reply, error) {
		s.Reason = defaultReasonText
		s.Advance(models.AppointmentStateCollectingDate, m.opts.Now())
		return m.save(ctx, s, msgAskDate)
	})
}

func (m *FlowManager) handleDate(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	date, ok := ParseDate(text, m.opts.Now(), m.opts.Hours.Location)
	if !ok {
		return m.retry(ctx, s, msgRetryDate, func() (Reply, error) {
			return m.offerSlots(ctx, s, m.tomorrow())
		})
	}
	return m.offerSlots(ctx, s, date)
}

func (m *FlowManager) offerSlots(ctx context.Context, s *models.AppointmentSession, date time.Time) (Reply, error) {
	s.PreferredDate = date
	slots := m.generateSlots(ctx, date)
	if len(slots) == 0 {
		s.Slots = nil
		s.Advance(models.AppointmentStateCollectingDate, m.opts.Now())
		return m.save(ctx, s, fmt.Sprintf(msgNoSlots, FormatDay(date)))
	}
	s.Slots = slots
	s.Advance(models.AppointmentStateShowingSlots, m.opts.Now())
	return m.save(ctx, s, fmt.Sprintf(msgShowSlots, FormatDay(slots[0].Start), formatSlotList(slots)))
}

func (m *FlowManager) handleSlot(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	if n, err := strconv.Atoi(strings.Trim(text, " .#)")); err == nil {
		if n >= 1 && n <= len(s.Slots) {
			slot := s.Slots[n-1]
			s.SelectedSlot = &slot
			s.Advance(models.AppointmentStateConfirming, m.opts.Now())
			return m.save(ctx, s, fmt.Sprintf(msgConfirm, s.Name, s.Reason, FormatSlot(slot)))
		}
	} else if date, ok := ParseDate(text, m.opts.Now(), m.opts.Hours.Location); ok {
		return m.offerSlots(ctx, s, date)
	}
	return m.retry(ctx, s, fmt.Sprintf(msgRetrySlot, len(s.Slots)), func() (Reply, error) {
		return m.finish(ctx, s, OutcomeAbandoned, msgGaveUp, nil)
	})
}

func (m *FlowManager) handleConfirm(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	switch {
	case m.opts.Lexicon.IsAffirmative(text):
		return m.book(ctx, s)
	case m.opts.Lexicon.IsNegative(text):
		return m.finish(ctx, s, OutcomeDeclined, msgDeclined, nil)
	}
	return m.retry(ctx, s, msgRetryConfirm, func() (Reply, error) {
		return m.finish(ctx, s, OutcomeAbandoned, msgGaveUp, nil)
	})
}

// book creates the appointment through the calendar when it is ready, or records
// it locally otherwise. The session ends either way.
func (m *FlowManager) book(ctx context.Context, s *models.AppointmentSession) (Reply, error) {
	if s.SelectedSlot == nil {
		return m.finish(ctx, s, OutcomeFailed, msgBookingFailed, nil)
	}
	slot := *s.SelectedSlot
	data := models.AppointmentData{
		ChatID:      s.ChatID,
		Name:        s.Name,
		Email:       s.Email,
		Phone:       s.Phone,
		Reason:      s.Reason,
		Start:       slot.Start,
		End:         slot.End,
		Description: fmt.Sprintf("Cita agendada por WhatsApp con %s", m.opts.BusinessName),
	}
	if loc := m.opts.Hours.Location; loc != nil && loc != time.Local {
		data.Timezone = loc.String()
	}

	outcome := OutcomeRecorded
	var result models.AppointmentResult
	if m.cal != nil && m.cal.IsReady() {
		res, err := m.cal.CreateAppointment(ctx, data)
		if err != nil || !res.Success {
			slog.Error("FlowManager.book: calendar booking failed", "error", err, "chatID", s.ChatID, "result_error", res.Error)
			return m.finish(ctx, s, OutcomeFailed, msgBookingFailed, nil)
		}
		result = res
		outcome = OutcomeBooked
	} else {
		result = models.AppointmentResult{Success: true, AppointmentID: util.GenerateAppointmentID(), CreatedAt: m.opts.Now()}
	}

	if m.recorder != nil {
		source := store.AppointmentSourceLocal
		if outcome == OutcomeBooked {
			source = store.AppointmentSourceCalendar
		}
		rec := store.AppointmentRecord{
			AppointmentID: result.AppointmentID,
			ChatID:        s.ChatID,
			Name:          s.Name,
			Email:         s.Email,
			Phone:         s.Phone,
			Reason:        s.Reason,
			Start:         slot.Start,
			End:           slot.End,
			MeetingLink:   result.MeetingLink,
			CalendarLink:  result.CalendarLink,
			Source:        source,
			CreatedAt:     m.opts.Now(),
		}
		if err := m.recorder.SaveAppointment(ctx, rec); err != nil {
			slog.Error("FlowManager.book: failed to record appointment", "error", err, "chatID", s.ChatID, "appointmentID", rec.AppointmentID)
			if outcome == OutcomeRecorded {
				return m.finish(ctx, s, OutcomeFailed, msgBookingFailed, nil)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, msgBooked, firstName(s.Name), FormatSlot(slot))
	if result.MeetingLink != "" {
		fmt.Fprintf(&b, msgMeetingLink, result.MeetingLink)
	}
	fmt.Fprintf(&b, msgBookedFooter, m.opts.BusinessName)

	slog.Info("FlowManager.book: appointment confirmed", "chatID", s.ChatID, "appointmentID", result.AppointmentID, "outcome", outcome)
	return m.finish(ctx, s, outcome, b.String(), &result)
}

// generateSlots returns at most MaxSlots slots starting on date, never earlier
// than now plus the lead time.
func (m *FlowManager) generateSlots(ctx context.Context, date time.Time) []models.TimeSlot {
	now := m.opts.Now()
	notBefore := now.Add(m.opts.LeadTime)

	var slots []models.TimeSlot
	fromCalendar := false
	if m.cal != nil && m.cal.IsReady() {
		start := date
		if start.Before(notBefore) {
			start = notBefore
		}
		end := date.AddDate(0, 0, m.opts.SearchDays)
		free, err := m.cal.GetFreeSlots(ctx, start, end, m.opts.SlotDuration)
		if err != nil {
			slog.Warn("FlowManager.generateSlots: calendar query failed, using working hours", "error", err)
		} else {
			slots = free
			fromCalendar = true
		}
	}
	if !fromCalendar {
		slots = m.opts.Hours.Slots(date, m.opts.SlotDuration, notBefore)
	}

	out := make([]models.TimeSlot, 0, m.opts.MaxSlots)
	for _, slot := range slots {
		if slot.Start.Before(notBefore) || !slot.Available {
			continue
		}
		out = append(out, slot)
		if len(out) == m.opts.MaxSlots {
			break
		}
	}
	return out
}

func (m *FlowManager) tomorrow() time.Time {
	loc := m.opts.Hours.Location
	if loc == nil {
		loc = time.Local
	}
	n := m.opts.Now().In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, loc)
}

// retry re-prompts while retries remain and runs exhausted otherwise.
func (m *FlowManager) retry(ctx context.Context, s *models.AppointmentSession, prompt string, exhausted func() (Reply, error)) (Reply, error) {
	s.Retries++
	if s.Retries >= m.opts.MaxRetries {
		slog.Debug("FlowManager: retries exhausted", "chatID", s.ChatID, "state", s.State)
		return exhausted()
	}
	s.UpdatedAt = m.opts.Now()
	return m.save(ctx, s, prompt)
}

func (m *FlowManager) save(ctx context.Context, s *models.AppointmentSession, text string) (Reply, error) {
	if err := m.sessions.Save(ctx, s); err != nil {
		return Reply{}, fmt.Errorf("failed to save session for %s: %w", s.ChatID, err)
	}
	return Reply{Text: text, Handled: true}, nil
}

func (m *FlowManager) finish(ctx context.Context, s *models.AppointmentSession, outcome Outcome, text string, result *models.AppointmentResult) (Reply, error) {
	final := models.AppointmentStateCancelled
	if outcome == OutcomeBooked || outcome == OutcomeRecorded {
		final = models.AppointmentStateCompleted
	}
	s.Advance(final, m.opts.Now())
	if err := m.sessions.Delete(ctx, s.ChatID); err != nil {
		slog.Error("FlowManager.finish: failed to delete session", "error", err, "chatID", s.ChatID)
	}
	if m.opts.OnOutcome != nil {
		m.opts.OnOutcome(outcome)
	}
	slog.Debug("FlowManager.finish: session ended", "chatID", s.ChatID, "outcome", outcome, "state", final)
	return Reply{Text: text, Handled: true, Completed: true, Outcome: outcome, Appointment: result}, nil
}
