package appointment

import (
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	// testNow is Monday 4 May 2026.
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"hoy", day(2026, 5, 4), true},
		{"Today please", day(2026, 5, 4), true},
		{"mañana", day(2026, 5, 5), true},
		{"Mañana por favor", day(2026, 5, 5), true},
		{"tomorrow", day(2026, 5, 5), true},
		{"pasado mañana", day(2026, 5, 6), true},
		{"el lunes", day(2026, 5, 4), true},
		{"el próximo lunes", day(2026, 5, 11), true},
		{"viernes", day(2026, 5, 8), true},
		{"el martes en la mañana", day(2026, 5, 5), true},
		{"Miércoles", day(2026, 5, 6), true},
		{"15/06", day(2026, 6, 15), true},
		{"15-06-2026", day(2026, 6, 15), true},
		{"01/01", day(2027, 1, 1), true},
		{"7/5/26", day(2026, 5, 7), true},
		{"20 de junio", day(2026, 6, 20), true},
		{"3 de enero", day(2027, 1, 3), true},
		{"31/04", time.Time{}, false},
		{"30/02", time.Time{}, false},
		{"15/13", time.Time{}, false},
		{"4 de mayo de 2025", time.Time{}, false},
		{"cuando quieras", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in, testNow, time.UTC)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestParseDateUsesLocation(t *testing.T) {
	mx := time.FixedZone("CST", -6*3600)
	// 02:00 UTC on the 5th is still the evening of the 4th in Mexico City.
	now := time.Date(2026, 5, 5, 2, 0, 0, 0, time.UTC)
	got, ok := ParseDate("mañana", now, mx)
	assert.True(t, ok)
	assert.Equal(t, 5, got.Day())
	assert.Equal(t, mx, got.Location())
}

func TestLexicon(t *testing.T) {
	l := DefaultLexicon()

	for _, in := range []string{
		"quiero agendar una cita",
		"¿Puedo reservar una consulta?",
		"Necesito una cita para el lunes",
		"I'd like to book an appointment",
		"can I schedule a meeting?",
		"quiero hacer una cita",
		"¿me ayudas a agendar una consulta con la doctora?",
	} {
		assert.True(t, l.IsBookingIntent(in), in)
	}
	for _, in := range []string{
		"hola",
		"¿cuánto cuesta la limpieza?",
		"gracias",
		"¿Puedo hacer una consulta sobre sus precios?",
		"quiero hacer una consulta",
		"necesito una consulta rápida: ¿aceptan tarjeta?",
		"tengo una consulta",
	} {
		assert.False(t, l.IsBookingIntent(in), in)
	}

	assert.True(t, l.IsCancel("Cancelar"))
	assert.True(t, l.IsCancel("cancela la cita"))
	assert.True(t, l.IsCancel("olvídalo"))
	assert.False(t, l.IsCancel("quiero cancelar mi cita del jueves y agendar otra"))

	assert.True(t, l.IsAffirmative("Sí"))
	assert.True(t, l.IsAffirmative("sí, confirmo"))
	assert.True(t, l.IsAffirmative("ok"))
	assert.False(t, l.IsAffirmative("no"))
	assert.False(t, l.IsAffirmative("sigo pensando"))

	assert.True(t, l.IsNegative("No"))
	assert.True(t, l.IsNegative("mejor no"))
	assert.False(t, l.IsNegative("nunca lo dije"))

	assert.True(t, l.IsDecline("prefiero no"))
	assert.True(t, l.IsDecline("no tengo"))
	assert.False(t, l.IsDecline("ana@example.com"))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Ana López", cleanName("ana lópez"))
	assert.Equal(t, "María José Pérez", cleanName("  MARÍA josé pérez. "))
	assert.Equal(t, "", cleanName("123"))
	assert.Equal(t, "", cleanName("ana@example.com"))
	assert.Equal(t, "", cleanName("a"))
	assert.Equal(t, "", cleanName("uno dos tres cuatro cinco seis siete"))
}

func TestCleanEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", cleanEmail(" Ana@Example.com."))
	assert.Equal(t, "", cleanEmail("ana@"))
	assert.Equal(t, "", cleanEmail("ana at example.com"))
}

func TestPhoneFromChatID(t *testing.T) {
	assert.Equal(t, "5215512345678", phoneFromChatID("5215512345678@s.whatsapp.net"))
	assert.Equal(t, "5215512345678", phoneFromChatID("5215512345678:12@s.whatsapp.net"))
	assert.Equal(t, "5215512345678", phoneFromChatID("whatsapp:+5215512345678"))
	assert.Equal(t, "", phoneFromChatID("12345@g.us"))
}

func TestFormatSlotList(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	got := formatSlotList([]models.TimeSlot{
		models.NewTimeSlot(start, 30*time.Minute),
		models.NewTimeSlot(start.Add(30*time.Minute), 30*time.Minute),
	})
	assert.Equal(t, "1. lunes 4/05 - 09:00\n2. lunes 4/05 - 09:30", got)
}
