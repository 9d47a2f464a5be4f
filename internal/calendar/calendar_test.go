package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestWorkingHoursSlots(t *testing.T) {
	hours := WorkingHours{StartHour: 9, EndHour: 17, Step: 30 * time.Minute, Location: time.UTC}
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	slots := hours.Slots(day, 30*time.Minute, time.Time{})
	require.Len(t, slots, 16)
	assert.Equal(t, 9, slots[0].Start.Hour())
	assert.Equal(t, time.Date(2026, 5, 4, 17, 0, 0, 0, time.UTC), slots[len(slots)-1].End)

	notBefore := time.Date(2026, 5, 4, 15, 10, 0, 0, time.UTC)
	late := hours.Slots(day, 30*time.Minute, notBefore)
	require.Len(t, late, 3)
	for _, s := range late {
		assert.False(t, s.Start.Before(notBefore), "slot %v starts before %v", s.Start, notBefore)
	}
}

func TestWorkingHoursSlotsBetween(t *testing.T) {
	hours := WorkingHours{StartHour: 9, EndHour: 12, Step: time.Hour, Location: time.UTC}
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	slots := hours.SlotsBetween(start, end, time.Hour)
	// day 1: 10,11 / day 2: 9,10,11 / day 3: 9 (ends at 10:00 == end)
	require.Len(t, slots, 6)
	assert.Equal(t, start, slots[0].Start)
}

func TestSubtractBusy(t *testing.T) {
	hours := WorkingHours{StartHour: 9, EndHour: 13, Step: 30 * time.Minute, Location: time.UTC}
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	slots := hours.Slots(day, 30*time.Minute, time.Time{})

	busy := []Interval{{
		Start: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC),
	}}
	buffer := 15 * time.Minute

	free := SubtractBusy(slots, busy, buffer)
	for _, s := range free {
		assert.False(t, s.Overlaps(busy[0].Start.Add(-buffer), busy[0].End.Add(buffer)),
			"slot %s overlaps widened busy period", s.Start.Format("15:04"))
	}

	var starts []string
	for _, s := range free {
		starts = append(starts, s.Start.Format("15:04"))
	}
	assert.Equal(t, []string{"09:00", "11:30", "12:00", "12:30"}, starts)
	assert.Len(t, slots, 8, "input must not be modified")
}

func TestSubtractBusyNoBusy(t *testing.T) {
	slots := []models.TimeSlot{models.NewTimeSlot(time.Now(), time.Hour)}
	free := SubtractBusy(slots, nil, time.Hour)
	assert.Equal(t, slots, free)
}

func newTestCalendar(t *testing.T, handler http.HandlerFunc) *GoogleCalendar {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cal, err := NewGoogleCalendar(context.Background(),
		WithClientOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client())),
		WithWorkingHours(WorkingHours{StartHour: 9, EndHour: 11, Step: 30 * time.Minute, Location: time.UTC}),
		WithBuffer(0),
	)
	require.NoError(t, err)
	return cal
}

func TestGoogleCalendarGetFreeSlots(t *testing.T) {
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/freeBusy") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"calendars": map[string]any{
				"primary": map[string]any{
					"busy": []map[string]string{{
						"start": "2026-05-04T09:30:00Z",
						"end":   "2026-05-04T10:00:00Z",
					}},
				},
			},
		})
	})

	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	slots, err := cal.GetFreeSlots(context.Background(), start, start.Add(24*time.Hour), 30*time.Minute)
	require.NoError(t, err)

	var starts []string
	for _, s := range slots {
		starts = append(starts, s.Start.Format("15:04"))
	}
	assert.Equal(t, []string{"09:00", "10:00", "10:30"}, starts)
}

func TestGoogleCalendarCreateAppointment(t *testing.T) {
	var got map[string]any
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("conferenceDataVersion"))
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "evt-1",
			"hangoutLink": "https://meet.google.com/abc-defg-hij",
			"htmlLink":    "https://calendar.google.com/event?eid=evt-1",
		})
	})

	start := time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC)
	res, err := cal.CreateAppointment(context.Background(), models.AppointmentData{
		ChatID: "5215512345678",
		Name:   "Ana López",
		Email:  "ana@example.com",
		Reason: "Consulta general",
		Start:  start,
		End:    start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "evt-1", res.AppointmentID)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", res.MeetingLink)
	assert.Equal(t, "Consulta general - Ana López", got["summary"])
	assert.NotNil(t, got["conferenceData"])
}

func TestGoogleCalendarCreateAppointmentFailure(t *testing.T) {
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
	})

	res, err := cal.CreateAppointment(context.Background(), models.AppointmentData{Name: "Ana", Reason: "x", Start: time.Now(), End: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestNilGoogleCalendarNotReady(t *testing.T) {
	var cal *GoogleCalendar
	assert.False(t, cal.IsReady())
	_, err := cal.GetFreeSlots(context.Background(), time.Now(), time.Now().Add(time.Hour), time.Hour)
	assert.ErrorIs(t, err, ErrCalendarNotReady)
}
