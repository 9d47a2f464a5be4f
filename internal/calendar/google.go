package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Default Google Calendar settings.
const (
	DefaultCalendarID = "primary"
	DefaultTimeout    = 15 * time.Second
	DefaultBuffer     = 15 * time.Minute
)

// GoogleOpts holds configuration for the Google Calendar adapter.
type GoogleOpts struct {
	CredentialsFile string
	CalendarID      string
	Buffer          time.Duration
	Timeout         time.Duration
	Hours           WorkingHours
	ClientOptions   []option.ClientOption
}

// GoogleOption configures a GoogleCalendar.
type GoogleOption func(*GoogleOpts)

// WithCredentialsFile sets the service-account JSON used to authenticate.
func WithCredentialsFile(path string) GoogleOption {
	return func(o *GoogleOpts) { o.CredentialsFile = path }
}

// WithCalendarID selects the calendar to book into.
func WithCalendarID(id string) GoogleOption {
	return func(o *GoogleOpts) { o.CalendarID = id }
}

// WithBuffer sets the gap kept free around busy periods.
func WithBuffer(d time.Duration) GoogleOption {
	return func(o *GoogleOpts) { o.Buffer = d }
}

// WithTimeout bounds every calendar API call.
func WithTimeout(d time.Duration) GoogleOption {
	return func(o *GoogleOpts) { o.Timeout = d }
}

// WithWorkingHours overrides the daily booking window.
func WithWorkingHours(h WorkingHours) GoogleOption {
	return func(o *GoogleOpts) { o.Hours = h }
}

// WithClientOptions passes extra options to the Google API client.
func WithClientOptions(opts ...option.ClientOption) GoogleOption {
	return func(o *GoogleOpts) { o.ClientOptions = append(o.ClientOptions, opts...) }
}

// GoogleCalendar implements Port on top of the Google Calendar v3 API.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	buffer     time.Duration
	timeout    time.Duration
	hours      WorkingHours
}

var _ Port = (*GoogleCalendar)(nil)

// NewGoogleCalendar creates the calendar service from the configured credentials.
func NewGoogleCalendar(ctx context.Context, opts ...GoogleOption) (*GoogleCalendar, error) {
	cfg := GoogleOpts{
		CalendarID: DefaultCalendarID,
		Buffer:     DefaultBuffer,
		Timeout:    DefaultTimeout,
		Hours:      DefaultWorkingHours(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := cfg.ClientOptions
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if len(clientOpts) == 0 {
		return nil, fmt.Errorf("google calendar credentials not set")
	}

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("GoogleCalendar: failed to create service", "error", err)
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	slog.Debug("GoogleCalendar created", "calendarID", cfg.CalendarID, "buffer", cfg.Buffer)

	return &GoogleCalendar{
		svc:        svc,
		calendarID: cfg.CalendarID,
		buffer:     cfg.Buffer,
		timeout:    cfg.Timeout,
		hours:      cfg.Hours,
	}, nil
}

// IsReady reports whether the underlying service was created.
func (g *GoogleCalendar) IsReady() bool {
	return g != nil && g.svc != nil
}

// GetFreeSlots queries free/busy for [start, end) and subtracts busy periods
// (plus the buffer) from the working-hours grid.
func (g *GoogleCalendar) GetFreeSlots(ctx context.Context, start, end time.Time, duration time.Duration) ([]models.TimeSlot, error) {
	if !g.IsReady() {
		return nil, ErrCalendarNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleCalendar.GetFreeSlots: free/busy query failed", "error", err, "calendarID", g.calendarID)
		return nil, fmt.Errorf("free/busy query failed: %w", err)
	}

	var busy []Interval
	if cal, ok := resp.Calendars[g.calendarID]; ok {
		for _, e := range cal.Errors {
			slog.Warn("GoogleCalendar.GetFreeSlots: calendar reported error", "reason", e.Reason, "domain", e.Domain)
		}
		for _, p := range cal.Busy {
			interval, err := parsePeriod(p)
			if err != nil {
				slog.Warn("GoogleCalendar.GetFreeSlots: skipping unparsable busy period", "error", err)
				continue
			}
			busy = append(busy, interval)
		}
	}

	slots := SubtractBusy(g.hours.SlotsBetween(start, end, duration), busy, g.buffer)
	slog.Debug("GoogleCalendar.GetFreeSlots: computed free slots", "busy", len(busy), "free", len(slots))
	return slots, nil
}

// CreateAppointment inserts an event with a Meet conference attached.
func (g *GoogleCalendar) CreateAppointment(ctx context.Context, data models.AppointmentData) (models.AppointmentResult, error) {
	if !g.IsReady() {
		return models.AppointmentResult{Error: ErrCalendarNotReady.Error()}, ErrCalendarNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// RFC3339 carries the offset; the zone name is only sent when it is an IANA name.
	tz := data.Timezone
	if tz == "" && g.hours.location() != time.Local {
		tz = g.hours.location().String()
	}

	event := &gcal.Event{
		Summary:     fmt.Sprintf("%s - %s", data.Reason, data.Name),
		Description: describe(data),
		Start:       &gcal.EventDateTime{DateTime: data.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: data.End.Format(time.RFC3339), TimeZone: tz},
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	if data.Email != "" {
		event.Attendees = []*gcal.EventAttendee{{Email: data.Email, DisplayName: data.Name}}
	}

	created, err := g.svc.Events.Insert(g.calendarID, event).ConferenceDataVersion(1).Context(ctx).Do()
	if err != nil {
		slog.Error("GoogleCalendar.CreateAppointment: insert failed", "error", err, "chatID", data.ChatID)
		return models.AppointmentResult{Error: err.Error(), CreatedAt: time.Now()}, fmt.Errorf("failed to create event: %w", err)
	}

	result := models.AppointmentResult{
		Success:       true,
		AppointmentID: created.Id,
		MeetingLink:   created.HangoutLink,
		CalendarLink:  created.HtmlLink,
		CreatedAt:     time.Now(),
	}
	if result.MeetingLink == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				result.MeetingLink = ep.Uri
				break
			}
		}
	}
	slog.Info("GoogleCalendar.CreateAppointment: event created", "appointmentID", result.AppointmentID, "chatID", data.ChatID, "has_meeting_link", result.MeetingLink != "")
	return result, nil
}

// CancelAppointment deletes the event.
func (g *GoogleCalendar) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	if !g.IsReady() {
		return false, ErrCalendarNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.svc.Events.Delete(g.calendarID, appointmentID).Context(ctx).Do(); err != nil {
		slog.Error("GoogleCalendar.CancelAppointment: delete failed", "error", err, "appointmentID", appointmentID)
		return false, fmt.Errorf("failed to delete event %s: %w", appointmentID, err)
	}
	slog.Info("GoogleCalendar.CancelAppointment: event deleted", "appointmentID", appointmentID)
	return true, nil
}

func parsePeriod(p *gcal.TimePeriod) (Interval, error) {
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid busy start %q: %w", p.Start, err)
	}
	end, err := time.Parse(time.RFC3339, p.End)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid busy end %q: %w", p.End, err)
	}
	return Interval{Start: start, End: end}, nil
}

func describe(data models.AppointmentData) string {
	var b strings.Builder
	if data.Description != "" {
		b.WriteString(data.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Nombre: %s\n", data.Name)
	if data.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", data.Email)
	}
	if data.Phone != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", data.Phone)
	}
	fmt.Fprintf(&b, "Motivo: %s\n", data.Reason)
	return b.String()
}
