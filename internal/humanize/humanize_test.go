package humanize

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestDetectErrorContext(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorContext
	}{
		{"¿Cómo te llamas?", ContextSimpleInfo},
		{"hola", ContextSimpleInfo},
		{"Buenas tardes!", ContextSimpleInfo},
		{"¿A qué hora abren el sábado?", ContextSimpleInfo},
		{"¿Dónde están ubicados? necesito la dirección", ContextSimpleInfo},
		{"What's your name?", ContextSimpleInfo},
		{"¿Eres un bot?", ContextPersonalInfo},
		{"are you a real person?", ContextPersonalInfo},
		{"¿Cuántos años tienes?", ContextPersonalInfo},
		{"hola, ¿cuánto cuesta una limpieza?", ContextPriceQuote},
		{"me pasas una cotización", ContextPriceQuote},
		{"How much is the whitening?", ContextPriceQuote},
		{"¿Qué servicios ofrecen?", ContextProductInfo},
		{"quiero información sobre el blanqueamiento", ContextProductInfo},
		{"do you offer orthodontics?", ContextProductInfo},
		{"Tengo un dolor en la muela desde ayer y no sé si es normal", ContextComplexQuestion},
		{"", ContextComplexQuestion},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectErrorContext(tt.msg), tt.msg)
	}
}

func TestDetectErrorContext_MixedQuestionsAreSimple(t *testing.T) {
	mixed := []string{
		"¿Cuál es su horario y el precio?",
		"¿Dónde están ubicados y cuánto cuesta la limpieza?",
		"Hola, ¿qué servicios tienen y dónde están?",
		"What's your name and how much is a cleaning?",
	}
	for _, msg := range mixed {
		ctx := DetectErrorContext(msg)
		assert.Equal(t, ContextSimpleInfo, ctx, msg)
		assert.Equal(t, ActionSilentTransfer, GetFailureAction(ctx, FailureAllProviders), msg)
	}
}

func TestGetFailureActionSimpleAlwaysSilent(t *testing.T) {
	failures := []FailureType{FailureProvider, FailureAllProviders, FailureTimeout, FailureEthicalRefusal, FailureInvalidResponse}
	for _, f := range failures {
		assert.Equal(t, ActionSilentTransfer, GetFailureAction(ContextSimpleInfo, f))
		assert.Equal(t, ActionSilentTransfer, GetFailureAction(ContextPersonalInfo, f))
		assert.Equal(t, ActionHumanizedResponse, GetFailureAction(ContextPriceQuote, f))
		assert.Equal(t, ActionHumanizedResponse, GetFailureAction(ContextComplexQuestion, f))
	}
}

func TestGetErrorResponse_SimpleInfoTransfersSilently(t *testing.T) {
	h := NewHumanizer(WithRand(seeded()))
	resp := h.GetErrorResponse(context.Background(), "¿Cómo te llamas?", FailureAllProviders, nil, BusinessContext{Name: "Clínica Sonrisa"})

	assert.Equal(t, ContextSimpleInfo, resp.Context)
	assert.Empty(t, resp.Response)
	assert.True(t, resp.TransferToHuman)
	assert.False(t, resp.ShouldRetry)
	assert.Equal(t, models.TransferReasonSimpleQuestionFail, resp.TransferReason)
}

func TestGetErrorResponse_SuspicionReason(t *testing.T) {
	h := NewHumanizer(WithRand(seeded()))
	resp := h.GetErrorResponse(context.Background(), "¿estoy hablando con un bot?", FailureProvider, nil, BusinessContext{})
	assert.True(t, resp.TransferToHuman)
	assert.Equal(t, models.TransferReasonSuspicionDetected, resp.TransferReason)
}

func TestGetErrorResponse_HumanizedStall(t *testing.T) {
	h := NewHumanizer(WithRand(seeded()), WithRetryDelay(2*time.Second, 4*time.Second))
	resp := h.GetErrorResponse(context.Background(), "¿Cuánto cuesta la ortodoncia?", FailureTimeout, nil, BusinessContext{})

	assert.Equal(t, ActionHumanizedResponse, resp.Action)
	assert.True(t, resp.ShouldRetry)
	assert.False(t, resp.TransferToHuman)
	assert.Contains(t, stallingPhrases[ContextPriceQuote], resp.Response)
	assert.GreaterOrEqual(t, resp.Delay, 2*time.Second)
	assert.LessOrEqual(t, resp.Delay, 4*time.Second)
}

func TestGetErrorResponse_RefusalRetriesUncensored(t *testing.T) {
	h := NewHumanizer(WithRand(seeded()), WithSensitiveBusinessTypes("sex_shop"))
	output := "I cannot discuss that as it violates guidelines"
	require.True(t, DetectEthicalRefusal(output))

	resp := h.GetErrorResponse(context.Background(), "¿Qué productos tienen disponibles?", FailureEthicalRefusal, nil, BusinessContext{Type: "retail"})
	assert.Equal(t, ContextProductInfo, resp.Context)
	assert.Equal(t, ActionRetryUncensored, resp.Action)
	assert.Equal(t, []string{"ollama", "lmstudio", "grok"}, resp.PreferredModels)
	assert.False(t, resp.Exclusive)
	assert.Empty(t, resp.Response)

	resp = h.GetErrorResponse(context.Background(), "¿Qué productos tienen disponibles?", FailureEthicalRefusal, nil, BusinessContext{Type: "sex_shop"})
	assert.True(t, resp.Exclusive)
}

func TestGetErrorResponse_RefusalOnSimpleTransfers(t *testing.T) {
	h := NewHumanizer(WithRand(seeded()))
	resp := h.GetErrorResponse(context.Background(), "¿Dónde están?", FailureEthicalRefusal, nil, BusinessContext{})
	assert.Equal(t, ActionSilentTransfer, resp.Action)
	assert.True(t, resp.TransferToHuman)
}

func TestDetectEthicalRefusal(t *testing.T) {
	refusals := []string{
		"No puedo ayudarte con eso.",
		"Lo siento, pero no puedo responder a esa pregunta.",
		"Eso va en contra de mis políticas.",
		"No es apropiado que hable de ese tema.",
		"Como modelo de lenguaje, no tengo opiniones.",
		"I cannot help with that request.",
		"I can't provide that information.",
		"That goes against my guidelines.",
		"I'm sorry, but I can't assist with that.",
		"As an AI, I don't have access to prices.",
		"It's not appropriate for me to comment on that.",
	}
	for _, r := range refusals {
		assert.True(t, DetectEthicalRefusal(r), r)
	}

	ordinary := []string{
		"Claro, la limpieza dental cuesta $600 y dura 40 minutos.",
		"Abrimos de lunes a viernes de 9 a 17 h.",
		"Sí tenemos disponibilidad el jueves por la tarde.",
		"Our office is open until 5pm.",
		"No hay problema, te espero mañana.",
	}
	for _, o := range ordinary {
		assert.False(t, DetectEthicalRefusal(o), o)
	}
}

func TestValidateResponse(t *testing.T) {
	assert.True(t, ValidateResponse("Claro, te espero el lunes a las 10.").Valid)

	v := ValidateResponse("Como asistente virtual, te puedo decir que abrimos a las 9.")
	assert.False(t, v.Valid)
	assert.Contains(t, v.Issues, IssueSelfReference)

	v = ValidateResponse("Opciones:\n1. Limpieza\n2. Blanqueamiento\n3. Ortodoncia")
	assert.Contains(t, v.Issues, IssueNumberedList)

	v = ValidateResponse("¡Hola! 😊😊🎉✨")
	assert.Contains(t, v.Issues, IssueTooManyEmoji)
	assert.True(t, ValidateResponse("¡Hola! 😊🎉✨").Valid)
}

func TestHumanizeResponse(t *testing.T) {
	// A zero-probability source keeps interjections out of the assertions.
	h := NewHumanizer(WithRand(rand.New(constSource(^uint64(0)))))

	out := h.HumanizeResponse("Como asistente virtual, te puedo decir que abrimos a las 9.")
	assert.Equal(t, "Te puedo decir que abrimos a las 9.", out)

	out = h.HumanizeResponse("Tenemos:\n1. Limpieza\n2) Blanqueamiento")
	assert.Equal(t, "Tenemos:\n• Limpieza\n• Blanqueamiento", out)

	out = h.HumanizeResponse("Listo 😊🎉✨🔥💯")
	assert.Equal(t, 3, CountEmoji(out))
	assert.True(t, ValidateResponse(out).Valid)

	out = h.HumanizeResponse("I'm an AI assistant. The clinic opens at 9.")
	assert.Equal(t, "The clinic opens at 9.", out)
}

func TestHumanizeResponseInterjection(t *testing.T) {
	// Float64 of a zero source is 0, so the interjection always fires.
	h := NewHumanizer(WithRand(rand.New(constSource(0))))
	out := h.HumanizeResponse("La cita es a las 10.")
	assert.Equal(t, "Mira, la cita es a las 10.", out)
}

func TestCalculateTypingDelayBounds(t *testing.T) {
	timing := NewTiming(seeded())
	lo := MinTypingDelay + minReadingTime
	hi := MaxTypingDelay + maxReadingTime
	for _, c := range []Complexity{ComplexitySimple, ComplexityModerate, ComplexityComplex} {
		for _, n := range []int{0, 1, 10, 29, 30, 80, 200, 1000, 100000} {
			for i := 0; i < 20; i++ {
				d := timing.CalculateTypingDelay(n, c)
				assert.GreaterOrEqual(t, d, lo, "n=%d c=%d", n, c)
				assert.LessOrEqual(t, d, hi, "n=%d c=%d", n, c)
			}
		}
	}
}

func TestCalculateTypingDelayHugeLengthClampsHigh(t *testing.T) {
	timing := NewTiming(seeded())
	for _, n := range []int{1 << 31, math.MaxInt} {
		d := timing.CalculateTypingDelay(n, ComplexityComplex)
		assert.GreaterOrEqual(t, d, MaxTypingDelay+minReadingTime, "n=%d", n)
		assert.LessOrEqual(t, d, MaxTypingDelay+maxReadingTime, "n=%d", n)
	}
}

func TestCalculateTypingDelayGrowsWithLength(t *testing.T) {
	short := NewTiming(rand.New(constSource(1<<63))).CalculateTypingDelay(40, ComplexitySimple)
	long := NewTiming(rand.New(constSource(1<<63))).CalculateTypingDelay(120, ComplexitySimple)
	assert.Greater(t, long, short)
}

func TestShouldShowTypingIndicator(t *testing.T) {
	timing := NewTiming(seeded())
	shown := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if timing.ShouldShowTypingIndicator(10) {
			shown++
		}
		require.True(t, timing.ShouldShowTypingIndicator(30))
	}
	ratio := float64(shown) / trials
	assert.InDelta(t, 0.7, ratio, 0.05)
}

func TestComplexityOf(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ComplexityOf("Sí, a las 10."))
	assert.Equal(t, ComplexityModerate, ComplexityOf(strings.Repeat("a", 150)))
	assert.Equal(t, ComplexityComplex, ComplexityOf("a\nb\nc\nd\ne"))
}

// constSource always returns the same value.
type constSource uint64

func (c constSource) Uint64() uint64 { return uint64(c) }

func TestIsHumanRequest(t *testing.T) {
	for _, m := range []string{
		"Quiero hablar con una persona",
		"¿Me puedes comunicar? necesito comunicarme con un asesor",
		"necesito un humano por favor",
		"Prefiero atención personalizada",
		"Can I talk to a human?",
		"I want to speak with a representative",
	} {
		assert.True(t, IsHumanRequest(m), m)
	}
	for _, m := range []string{
		"hola",
		"¿cuánto cuesta la limpieza?",
		"la persona que me atendió fue muy amable",
		"quiero agendar una cita",
	} {
		assert.False(t, IsHumanRequest(m), m)
	}
}
