// Package humanize screens automated replies and decides how failures are
// handled without the end user noticing.
//
// It classifies the message that triggered a failure, decides between a
// stalling reply with a retry and a silent transfer to a human, detects model
// refusals, rewrites replies that read as automated, and simulates typing time.
package humanize

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// FailureType is the kind of automation failure being handled.
type FailureType string

// Failure types.
const (
	FailureProvider        FailureType = "provider_failure"
	FailureAllProviders    FailureType = "all_providers_failed"
	FailureTimeout         FailureType = "timeout"
	FailureEthicalRefusal  FailureType = "ethical_refusal"
	FailureInvalidResponse FailureType = "invalid_response"
)

// Action is what the caller should do about a failure.
type Action string

// Failure actions.
const (
	ActionSilentTransfer    Action = "silent_transfer"
	ActionHumanizedResponse Action = "humanized_response"
	ActionRetryUncensored   Action = "retry_with_uncensored"
)

// BusinessContext describes the business the conversation is with.
type BusinessContext struct {
	Name string
	Type string
}

// ErrorResponse is the handling decided for one failure.
type ErrorResponse struct {
	// Response is the text to show the user. Empty means send nothing.
	Response        string
	Action          Action
	ShouldRetry     bool
	TransferToHuman bool
	// TransferReason is set when TransferToHuman is true.
	TransferReason models.TransferReason
	// Delay is how long to wait before showing the retried answer.
	Delay time.Duration
	// PreferredModels and Exclusive are set for ActionRetryUncensored.
	PreferredModels []string
	Exclusive       bool
	Context         ErrorContext
}

// Opts configures a Humanizer.
type Opts struct {
	SensitiveBusinessTypes []string
	UncensoredProviders    []string
	Rand                   *rand.Rand
	MinRetryDelay          time.Duration
	MaxRetryDelay          time.Duration
}

// Option configures a Humanizer.
type Option func(*Opts)

// WithSensitiveBusinessTypes lists business types whose refusals are retried
// only on uncensored providers.
func WithSensitiveBusinessTypes(types ...string) Option {
	return func(o *Opts) { o.SensitiveBusinessTypes = types }
}

// WithUncensoredProviders replaces the providers preferred after a refusal.
func WithUncensoredProviders(ids ...string) Option {
	return func(o *Opts) {
		if len(ids) > 0 {
			o.UncensoredProviders = ids
		}
	}
}

// WithRand injects the random source.
func WithRand(rng *rand.Rand) Option {
	return func(o *Opts) { o.Rand = rng }
}

// WithRetryDelay bounds the pause after a stalling reply.
func WithRetryDelay(min, max time.Duration) Option {
	return func(o *Opts) {
		if min > 0 && max >= min {
			o.MinRetryDelay, o.MaxRetryDelay = min, max
		}
	}
}

// Humanizer is safe for concurrent use.
type Humanizer struct {
	opts      Opts
	timing    *Timing
	sensitive map[string]bool
}

// NewHumanizer creates a Humanizer.
func NewHumanizer(opts ...Option) *Humanizer {
	o := Opts{
		UncensoredProviders: UncensoredProviders,
		MinRetryDelay:       3 * time.Second,
		MaxRetryDelay:       6 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &Humanizer{opts: o, timing: NewTiming(o.Rand), sensitive: make(map[string]bool)}
	for _, t := range o.SensitiveBusinessTypes {
		h.sensitive[t] = true
	}
	return h
}

// Timing returns the typing simulator sharing this humanizer's random source.
func (h *Humanizer) Timing() *Timing {
	return h.timing
}

func (h *Humanizer) chance(p float64) bool { return h.timing.float64() < p }
func (h *Humanizer) intN(n int) int        { return h.timing.intN(n) }

func (h *Humanizer) isSensitive(businessType string) bool {
	return h.sensitive[businessType]
}

// GetFailureAction maps a context to its handling. Simple and personal questions
// always go to a human silently.
func GetFailureAction(ctx ErrorContext, _ FailureType) Action {
	if ctx.IsSimple() {
		return ActionSilentTransfer
	}
	return ActionHumanizedResponse
}

// GetErrorResponse decides how to handle a failure triggered by userMessage.
func (h *Humanizer) GetErrorResponse(ctx context.Context, userMessage string, failure FailureType, history []models.ChatMessage, bc BusinessContext) ErrorResponse {
	ec := DetectErrorContext(userMessage)
	logger := slog.With("context", ec, "failure", failure, "history_length", len(history))

	if failure == FailureEthicalRefusal {
		d := h.HandleEthicalRefusal(ec, bc)
		if d.Action == ActionRetryUncensored {
			logger.Info("Humanizer.GetErrorResponse: retrying refusal on uncensored providers", "exclusive", d.Exclusive)
			return ErrorResponse{
				Action:          ActionRetryUncensored,
				ShouldRetry:     true,
				PreferredModels: d.PreferredModels,
				Exclusive:       d.Exclusive,
				Context:         ec,
			}
		}
	}

	if GetFailureAction(ec, failure) == ActionSilentTransfer {
		reason := models.TransferReasonSimpleQuestionFail
		if IsSuspicious(userMessage) {
			reason = models.TransferReasonSuspicionDetected
		}
		logger.Info("Humanizer.GetErrorResponse: silent transfer", "reason", reason)
		return ErrorResponse{
			Action:          ActionSilentTransfer,
			TransferToHuman: true,
			TransferReason:  reason,
			Context:         ec,
		}
	}

	stall := h.stallingPhrase(ec)
	delay := h.timing.between(h.opts.MinRetryDelay, h.opts.MaxRetryDelay)
	logger.Debug("Humanizer.GetErrorResponse: stalling before retry", "delay", delay)
	return ErrorResponse{
		Response:    stall,
		Action:      ActionHumanizedResponse,
		ShouldRetry: true,
		Delay:       delay,
		Context:     ec,
	}
}

// ProcessResponse screens a model reply and rewrites it when it reads as automated.
func (h *Humanizer) ProcessResponse(text string) (string, Validation) {
	v := ValidateResponse(text)
	if v.Valid {
		return text, v
	}
	slog.Debug("Humanizer.ProcessResponse: rewriting reply", "issues", v.Issues)
	return h.HumanizeResponse(text), v
}

var stallingPhrases = map[ErrorContext][]string{
	ContextPriceQuote: {
		"Déjame revisar los precios actualizados y te confirmo en un momento.",
		"Permíteme verificar la tarifa exacta, ya te digo.",
		"Dame un segundo para checar el precio correcto.",
	},
	ContextProductInfo: {
		"Déjame checar la información de ese servicio y te respondo enseguida.",
		"Permíteme confirmar los detalles, ahorita te digo.",
		"Un momento, reviso eso y te cuento.",
	},
	ContextComplexQuestion: {
		"Buena pregunta, déjame revisarlo bien y te contesto en un momento.",
		"Dame un momento para revisarlo con calma.",
		"Mmm, déjame confirmarlo para no darte un dato incorrecto.",
	},
}

func (h *Humanizer) stallingPhrase(ec ErrorContext) string {
	phrases, ok := stallingPhrases[ec]
	if !ok {
		phrases = stallingPhrases[ContextComplexQuestion]
	}
	return phrases[h.intN(len(phrases))]
}
