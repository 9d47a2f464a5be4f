package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

var spanishWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var spanishMonths = [...]string{"", "enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
	"agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// Prompts and replies shown to the end user during a booking.
const (
	msgAskName        = "¡Con gusto te ayudo a agendar tu cita! 😊 ¿Me compartes tu nombre completo?"
	msgRetryName      = "Disculpa, no alcancé a registrar tu nombre. ¿Me lo escribes de nuevo, por favor? (solo nombre y apellido)"
	msgAskEmail       = "Gracias, %s. ¿Cuál es tu correo electrónico? Si prefieres no compartirlo, responde \"no\"."
	msgRetryEmail     = "Ese correo no parece válido. ¿Lo revisas? También puedes responder \"no\" para omitirlo."
	msgAskPhone       = "¿A qué número de teléfono podemos contactarte?"
	msgRetryPhone     = "No pude leer el número. Escríbelo con lada, solo dígitos por favor."
	msgAskReason      = "Perfecto. ¿Cuál es el motivo de tu cita?"
	msgRetryReason    = "¿Me cuentas un poco más sobre el motivo de la cita?"
	msgAskDate        = "¿Qué día te gustaría? Puedes decir \"mañana\", \"el lunes\" o una fecha como 15/06."
	msgRetryDate      = "No entendí la fecha 🙈. Prueba con \"mañana\", un día de la semana o una fecha como 15/06."
	msgNoSlots        = "Para el %s ya no tengo horarios disponibles. ¿Qué otro día te acomoda?"
	msgShowSlots      = "Estos son los horarios disponibles para el %s:\n\n%s\n\nResponde con el número del horario que prefieras."
	msgRetrySlot      = "Por favor responde con un número del 1 al %d, o dime otro día."
	msgConfirm        = "Te confirmo los datos:\n\n👤 %s\n📋 %s\n📅 %s\n\n¿Confirmo la cita? (sí/no)"
	msgRetryConfirm   = "¿Confirmo la cita? Responde \"sí\" o \"no\", por favor."
	msgBooked         = "¡Listo, %s! ✅ Tu cita quedó agendada para el %s."
	msgMeetingLink    = "\n\nEnlace de la videollamada: %s"
	msgBookedFooter   = "\n\nSi necesitas cambiarla, solo escríbenos. ¡Gracias por confiar en %s!"
	msgCancelled      = "De acuerdo, cancelé la solicitud de cita. Si más adelante quieres agendar, aquí estoy."
	msgDeclined       = "Entendido, no agendé la cita. Si quieres elegir otro horario, escríbeme \"agendar cita\"."
	msgBookingFailed  = "Tuve un inconveniente al registrar tu cita 😔. Un asesor te contactará en breve para confirmarla."
	msgGaveUp         = "Parece que no logramos completar la solicitud. Un asesor te escribirá para ayudarte con tu cita."
	defaultReasonText = "Consulta general"
)

// FormatDay renders a date as "lunes 4 de mayo".
func FormatDay(t time.Time) string {
	return fmt.Sprintf("%s %d de %s", spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()])
}

// FormatSlot renders a slot as "lunes 4 de mayo a las 09:30".
func FormatSlot(s models.TimeSlot) string {
	return fmt.Sprintf("%s a las %s", FormatDay(s.Start), s.Start.Format("15:04"))
}

func formatSlotList(slots []models.TimeSlot) string {
	var b strings.Builder
	for i, s := range slots {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s %d/%02d - %s", i+1, spanishWeekdays[s.Start.Weekday()], s.Start.Day(), int(s.Start.Month()), s.Start.Format("15:04"))
	}
	return b.String()
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}
