package humanize

import (
	"regexp"

	"github.com/BTreeMap/ReplyPipe/internal/util"
)

// UncensoredProviders are preferred when a model refused a legitimate request.
var UncensoredProviders = []string{"ollama", "lmstudio", "grok"}

// RefusalPatterns are the markers of a model refusing to answer, in Spanish
// and English. They match folded text.
var RefusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(no puedo|no me es posible|no estoy en condiciones de) (ayudarte|ayudar|proporcionar|brindar|responder|hablar|discutir|dar) (con|sobre|esa|ese|eso|informacion|detalles)`),
	regexp.MustCompile(`\b(lo siento|disculpa|me temo que),? (pero )?no puedo\b`),
	regexp.MustCompile(`\b(va en contra|viola|infringe|contradice) (de )?(mis|las|nuestras) (politicas|directrices|normas|pautas|lineamientos)`),
	regexp.MustCompile(`\bno (es apropiado|seria apropiado|es etico|seria etico)\b`),
	regexp.MustCompile(`\bcomo (un |una )?(modelo de lenguaje|asistente de ia|inteligencia artificial),? no\b`),
	regexp.MustCompile(`\bi (cannot|can't|can not|am unable to|won't|will not) (help|assist|provide|discuss|answer|talk about|comply)`),
	regexp.MustCompile(`\b(violates|against|goes against|breaches) (my|the|our|openai'?s?) (guidelines|policies|policy|usage policies|content policy|terms)`),
	regexp.MustCompile(`\b(i'?m|i am) (sorry|afraid),? (but )?i (cannot|can't|am unable)`),
	regexp.MustCompile(`\bas an ai( language model)?,? i (cannot|can't|don't|do not|am not able)`),
	regexp.MustCompile(`\b(not appropriate|inappropriate) for me to\b`),
}

// DetectEthicalRefusal reports whether a model's output is a refusal.
func DetectEthicalRefusal(text string) bool {
	folded := util.FoldText(text)
	for _, re := range RefusalPatterns {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// RefusalDecision is how a detected refusal is handled.
type RefusalDecision struct {
	Action          Action
	PreferredModels []string
	// Exclusive restricts the retry to PreferredModels.
	Exclusive bool
}

// HandleEthicalRefusal decides what to do with a refusal in context ec. Simple
// contexts are transferred silently; others are retried on an uncensored
// provider, exclusively for sensitive business types.
func (h *Humanizer) HandleEthicalRefusal(ec ErrorContext, bc BusinessContext) RefusalDecision {
	if ec.IsSimple() {
		return RefusalDecision{Action: ActionSilentTransfer}
	}
	return RefusalDecision{
		Action:          ActionRetryUncensored,
		PreferredModels: append([]string(nil), h.opts.UncensoredProviders...),
		Exclusive:       h.isSensitive(bc.Type),
	}
}
