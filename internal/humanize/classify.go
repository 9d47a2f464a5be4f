package humanize

import (
	"regexp"

	"github.com/BTreeMap/ReplyPipe/internal/util"
)

// ErrorContext classifies the user message that triggered a failure.
type ErrorContext string

// Error contexts.
const (
	ContextSimpleInfo      ErrorContext = "SIMPLE_INFO"
	ContextPersonalInfo    ErrorContext = "PERSONAL_INFO"
	ContextPriceQuote      ErrorContext = "PRICE_QUOTE"
	ContextProductInfo     ErrorContext = "PRODUCT_INFO"
	ContextComplexQuestion ErrorContext = "COMPLEX_QUESTION"
)

// IsSimple reports whether the context must never get an automated fallback answer.
func (c ErrorContext) IsSimple() bool {
	return c == ContextSimpleInfo || c == ContextPersonalInfo
}

// contextRule tags messages matching pattern. Rules are tried in order.
type contextRule struct {
	pattern *regexp.Regexp
	context ErrorContext
}

// contextRules is ordered: personal questions first, then the simple questions
// a receptionist answers without thinking, then commercial ones. A message
// mixing a simple question with a commercial one classifies as simple.
var contextRules = []contextRule{
	// Personal questions about the person answering.
	{regexp.MustCompile(`\b(eres|estas hablando con|estoy hablando con|hablo con) (un |una )?(bot|robot|maquina|humano|humana|persona|persona real|ia|inteligencia artificial|programa)\b`), ContextPersonalInfo},
	{regexp.MustCompile(`\bare you (a |an )?(bot|robot|human|real|real person|ai|machine)\b`), ContextPersonalInfo},
	{regexp.MustCompile(`\b(cuantos anos tienes|tu edad|donde vives|estas casad[oa]|tienes (novio|novia|pareja|hijos)|de donde eres)\b`), ContextPersonalInfo},
	{regexp.MustCompile(`\b(how old are you|where do you live|are you married)\b`), ContextPersonalInfo},

	// Identity, hours, location and greetings.
	{regexp.MustCompile(`\b(como te llamas|cual es tu nombre|quien eres|quien me atiende|con quien hablo)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`\b(what'?s your name|who are you|who am i talking to)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`\b(horario|horarios|a que hora (abren|cierran)|abren|cierran|estan abiertos)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`\b(opening hours|what time do you (open|close)|are you open)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`\b(donde (estan|quedan|se ubican|se encuentran)|direccion|ubicacion|como llego)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`\b(where are you( located)?|address|location)\b`), ContextSimpleInfo},
	{regexp.MustCompile(`^(hola|buenas|buenos dias|buenas tardes|buenas noches|que tal|hi|hello|hey|good (morning|afternoon|evening))\b[ !.,?]*$`), ContextSimpleInfo},

	// Prices and quotes.
	{regexp.MustCompile(`\b(cuanto (cuesta|vale|sale|cobran|es)|precio|precios|costo|costos|tarifa|cotizacion|cotizar|presupuesto)\b`), ContextPriceQuote},
	{regexp.MustCompile(`\b(how much|price|prices|pricing|cost|quote)\b`), ContextPriceQuote},

	// Products and services.
	{regexp.MustCompile(`\b(que|cuales) (productos|servicios|tratamientos|planes|paquetes)\b`), ContextProductInfo},
	{regexp.MustCompile(`\b(tienen|manejan|venden|ofrecen) (disponible|en existencia|en stock|servicio de)\b`), ContextProductInfo},
	{regexp.MustCompile(`\b(informacion|detalles|caracteristicas|especificaciones) (de|del|sobre)\b|\bcatalogo\b`), ContextProductInfo},
	{regexp.MustCompile(`\b(do you (have|sell|offer)|what (services|products)|catalog)\b`), ContextProductInfo},
}

// suspicionRe matches a user probing whether they are talking to a machine.
var suspicionRe = regexp.MustCompile(`\b(bot|robot|maquina|machine|ia|ai|inteligencia artificial|chatgpt|gpt|automatico|automated)\b`)

// DetectErrorContext classifies message. The first matching rule wins;
// anything unmatched is a complex question.
func DetectErrorContext(message string) ErrorContext {
	text := util.FoldText(message)
	for _, r := range contextRules {
		if r.pattern.MatchString(text) {
			return r.context
		}
	}
	return ContextComplexQuestion
}

// IsSuspicious reports whether message asks if the conversation is automated.
func IsSuspicious(message string) bool {
	return suspicionRe.MatchString(util.FoldText(message))
}

// humanRequestRes match a user asking to be served by a person.
var humanRequestRes = []*regexp.Regexp{
	regexp.MustCompile(`\b(hablar|comunicarme|platicar|contactar) con (una persona|un humano|una humana|alguien|un asesor|una asesora|un agente|el encargado|la encargada|el gerente|la gerente)\b`),
	regexp.MustCompile(`\b(quiero|necesito|prefiero) (un|una) (humano|humana|persona real|asesor|asesora)\b`),
	regexp.MustCompile(`\batencion (humana|personal(izada)?)\b`),
	regexp.MustCompile(`\b(talk|speak|chat) (to|with) (a |an )?(human|person|real person|agent|representative|someone)\b`),
}

// IsHumanRequest reports whether message explicitly asks for a human.
func IsHumanRequest(message string) bool {
	text := util.FoldText(message)
	for _, re := range humanRequestRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
