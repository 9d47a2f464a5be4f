package appointment

import (
	"regexp"

	"github.com/BTreeMap/ReplyPipe/internal/util"
)

// Lexicon holds the phrase tables that drive the flow. Patterns are matched
// against normalized text (lower case, accents folded), so they are written
// without accents.
type Lexicon struct {
	Intent      []*regexp.Regexp
	Cancel      []*regexp.Regexp
	Affirmative []*regexp.Regexp
	Negative    []*regexp.Regexp
	Decline     []*regexp.Regexp
}

// DefaultLexicon covers Spanish and English.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Intent: compile(
			// "hacer/tener una consulta" is asking a question, so consulta
			// needs an explicit booking verb.
			`\b(agendar|agenda|reservar|reserva|programar|apartar|sacar|pedir|solicitar)\b.*\b(cita|turno|consulta|reunion|sesion|hora)\b`,
			`\bhacer\b.*\b(cita|turno|reunion|sesion)\b`,
			`\b(quiero|necesito|quisiera|puedo|me gustaria|deseo)\b.*\b(cita|turno)\b`,
			`\b(cita|turno)\b.*\b(disponible|disponibilidad|libre)\b`,
			`\b(book|schedule|make|set up|arrange)\b.*\b(appointment|meeting|consultation|call|visit)\b`,
			`\b(i need|i want|i'd like|can i get)\b.*\bappointment\b`,
		),
		Cancel: compile(
			`^(cancelar|cancela|cancelalo|cancel|salir|detener|stop|ya no|olvidalo|forget it)( (la )?(cita|todo|eso))?[.!]*$`,
		),
		Affirmative: compile(
			`^(si|s|yes|y|yeah|yep|claro|confirmo|confirmar|confirmado|de acuerdo|ok|okay|vale|correcto|perfecto|dale|va|adelante|sure)\b`,
		),
		Negative: compile(
			`^(no|n|nop|nope|nel|negativo|mejor no|cambiar)\b`,
		),
		Decline: compile(
			`^(no|n|no tengo|prefiero no|omitir|saltar|paso|skip|ninguno|none|n/a|sin correo|sin email)\b`,
		),
	}
}

// IsBookingIntent reports whether text asks to book an appointment.
func (l Lexicon) IsBookingIntent(text string) bool {
	return matchAny(l.Intent, normalize(text))
}

// IsCancel reports whether text abandons the booking.
func (l Lexicon) IsCancel(text string) bool {
	return matchAny(l.Cancel, normalize(text))
}

// IsAffirmative reports a yes.
func (l Lexicon) IsAffirmative(text string) bool {
	return matchAny(l.Affirmative, normalize(text))
}

// IsNegative reports a no.
func (l Lexicon) IsNegative(text string) bool {
	return matchAny(l.Negative, normalize(text))
}

// IsDecline reports a refusal to provide optional data.
func (l Lexicon) IsDecline(text string) bool {
	return matchAny(l.Decline, normalize(text))
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// normalize lower-cases, folds Spanish accents and collapses whitespace.
func normalize(text string) string {
	return util.FoldText(text)
}
