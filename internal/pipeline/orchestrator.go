// Package pipeline turns inbound WhatsApp messages into booking steps, AI
// replies or hand-offs to a human, and delivers the result.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/appointment"
	"github.com/BTreeMap/ReplyPipe/internal/humanize"
	"github.com/BTreeMap/ReplyPipe/internal/llm"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/transfer"
)

// Outcome labels how an inbound message was handled.
type Outcome string

// Inbound outcomes.
const (
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeSilenced       Outcome = "silenced"
	OutcomeFlow           Outcome = "flow"
	OutcomeHumanRequested Outcome = "human_requested"
	OutcomeReplied        Outcome = "replied"
	OutcomeRetried        Outcome = "retried"
	OutcomeTransferred    Outcome = "transferred"
	OutcomeError          Outcome = "error"
)

// FlowProcessor runs the booking flow.
type FlowProcessor interface {
	ProcessMessage(ctx context.Context, chatID, text string) (appointment.Reply, error)
	CancelSession(ctx context.Context, chatID string) error
}

// Generator produces AI replies.
type Generator interface {
	GenerateResponse(ctx context.Context, messages []models.ChatMessage) llm.Result
	GenerateWithPreference(ctx context.Context, messages []models.ChatMessage, preferred []string, exclusive bool) llm.Result
	FallbackMessage() string
}

// Transfers creates and looks up hand-offs.
type Transfers interface {
	ActiveTransfer(ctx context.Context, chatID string) (*models.TransferRecord, error)
	CreateTransfer(ctx context.Context, req transfer.CreateRequest) *models.TransferRecord
	ShouldTransferSilently(reason models.TransferReason, message string, history []models.ChatMessage, sig transfer.Signals) bool
}

// Sender delivers replies.
type Sender interface {
	SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error)
	SendTyping(ctx context.Context, chatID string, typing bool) error
}

// Observer receives one outcome per inbound message.
type Observer interface {
	InboundProcessed(outcome string)
}

// Opts configures an Orchestrator.
type Opts struct {
	Business     humanize.BusinessContext
	SystemPrompt string
	HistoryLimit int
	HistoryTTL   time.Duration
	HumanAck     string
	Now          func() time.Time
	// Sleep waits d or until ctx is done. Replaced in tests.
	Sleep    func(ctx context.Context, d time.Duration) error
	Observer Observer
}

// Option configures an Orchestrator.
type Option func(*Opts)

// WithBusiness sets the business the conversation is held for.
func WithBusiness(bc humanize.BusinessContext) Option {
	return func(o *Opts) { o.Business = bc }
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithHistoryLimit sets the number of turns kept per chat.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// WithHistoryTTL sets how long an idle chat's history is kept.
func WithHistoryTTL(d time.Duration) Option {
	return func(o *Opts) { o.HistoryTTL = d }
}

// WithClock injects the time source used for history expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithHumanAck sets the reply sent when the user asks for a person.
func WithHumanAck(text string) Option {
	return func(o *Opts) { o.HumanAck = text }
}

// WithSleep replaces the function used for typing and retry delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Opts) { o.Sleep = fn }
}

// WithObserver reports inbound outcomes.
func WithObserver(obs Observer) Option {
	return func(o *Opts) { o.Observer = obs }
}

// Orchestrator handles one inbound message at a time per chat; callers
// serialize messages of the same chat (see Dispatcher).
type Orchestrator struct {
	flow      FlowProcessor
	llm       Generator
	humanizer *humanize.Humanizer
	transfers Transfers
	sender    Sender
	dedup     store.DedupRepo
	history   *History
	opts      Opts
}

// NewOrchestrator wires the pipeline. dedup may be nil to disable deduplication.
func NewOrchestrator(flow FlowProcessor, gen Generator, h *humanize.Humanizer, transfers Transfers, sender Sender, dedup store.DedupRepo, opts ...Option) *Orchestrator {
	o := Opts{
		HistoryLimit: DefaultHistoryLimit,
		Sleep:        sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Business.Name == "" {
		o.Business.Name = "nuestro equipo"
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = defaultSystemPrompt(o.Business.Name)
	}
	if o.HumanAck == "" {
		o.HumanAck = "¡Claro! En un momento te atiende alguien del equipo de " + o.Business.Name + "."
	}
	return &Orchestrator{
		flow:      flow,
		llm:       gen,
		humanizer: h,
		transfers: transfers,
		sender:    sender,
		dedup:     dedup,
		history:   NewHistory(o.HistoryLimit, o.HistoryTTL, o.Now),
		opts:      o,
	}
}

func defaultSystemPrompt(business string) string {
	return fmt.Sprintf("Trabajas en la atención por WhatsApp de %s. Responde como una persona del equipo: breve, cálida y natural, "+
		"en el idioma del cliente. No uses listas numeradas ni más de tres emojis. Si no sabes algo, dilo con naturalidad y ofrece confirmarlo.", business)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History exposes the per-chat conversation history.
func (o *Orchestrator) History() *History { return o.history }

// HandleInbound processes one inbound message end to end.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg models.NormalizedMessage) error {
	outcome, err := o.handle(ctx, msg)
	if err != nil {
		outcome = OutcomeError
		slog.Error("Orchestrator.HandleInbound: failed", "chatID", msg.ChatID, "messageID", msg.ID, "error", err)
	} else {
		slog.Debug("Orchestrator.HandleInbound: handled", "chatID", msg.ChatID, "messageID", msg.ID, "outcome", outcome)
	}
	if o.opts.Observer != nil {
		o.opts.Observer.InboundProcessed(string(outcome))
	}
	if outcome != OutcomeDuplicate && o.dedup != nil && msg.ID != "" {
		if mErr := o.dedup.MarkProcessed(ctx, msg.ID); mErr != nil {
			slog.Warn("Orchestrator.HandleInbound: failed to mark processed", "messageID", msg.ID, "error", mErr)
		}
	}
	return err
}

func (o *Orchestrator) handle(ctx context.Context, msg models.NormalizedMessage) (Outcome, error) {
	chatID := msg.ChatID
	if o.dedup != nil && msg.ID != "" {
		fresh, err := o.dedup.RecordInbound(ctx, msg.ID, chatID)
		if err != nil {
			slog.Warn("Orchestrator.handle: dedup check failed, processing anyway", "messageID", msg.ID, "error", err)
		} else if !fresh {
			slog.Info("Orchestrator.handle: duplicate inbound message dropped", "chatID", chatID, "messageID", msg.ID)
			return OutcomeDuplicate, nil
		}
	}

	text := msg.Text
	if text == "" && msg.MediaType != "" {
		text = "[" + msg.MediaType + "]"
	}
	o.history.Append(chatID, models.UserMessage(text))

	active, err := o.transfers.ActiveTransfer(ctx, chatID)
	if err != nil {
		slog.Warn("Orchestrator.handle: active transfer lookup failed", "chatID", chatID, "error", err)
	} else if active != nil {
		slog.Info("Orchestrator.handle: chat is with an operator, not replying", "chatID", chatID, "transferID", active.TransferID)
		return OutcomeSilenced, nil
	}

	// Media without text cannot be answered automatically.
	if msg.Text == "" {
		return o.escalate(ctx, chatID, text, models.TransferReasonComplexQuery, true)
	}

	reply, err := o.flow.ProcessMessage(ctx, chatID, msg.Text)
	if err != nil {
		return OutcomeError, fmt.Errorf("booking flow failed: %w", err)
	}
	if reply.Handled {
		if err := o.deliver(ctx, chatID, reply.Text); err != nil {
			return OutcomeError, err
		}
		return OutcomeFlow, nil
	}

	if humanize.IsHumanRequest(msg.Text) {
		if _, err := o.escalate(ctx, chatID, msg.Text, models.TransferReasonUserRequested, false); err != nil {
			return OutcomeError, err
		}
		return OutcomeHumanRequested, nil
	}

	return o.answer(ctx, chatID, msg.Text)
}

// answer generates, screens and delivers an AI reply.
func (o *Orchestrator) answer(ctx context.Context, chatID, text string) (Outcome, error) {
	res := o.llm.GenerateResponse(ctx, o.prompt(chatID))
	if !res.Success {
		return o.recover(ctx, chatID, text, humanize.FailureAllProviders, false)
	}
	if humanize.DetectEthicalRefusal(res.Response) {
		slog.Info("Orchestrator.answer: model refused", "chatID", chatID, "provider", res.Provider)
		return o.recover(ctx, chatID, text, humanize.FailureEthicalRefusal, false)
	}
	return o.reply(ctx, chatID, res.Response, OutcomeReplied)
}

// recover applies the humanizer's decision for a failed generation. retried
// is set once a second generation has already been attempted.
func (o *Orchestrator) recover(ctx context.Context, chatID, text string, failure humanize.FailureType, retried bool) (Outcome, error) {
	history := o.history.Get(chatID)
	er := o.humanizer.GetErrorResponse(ctx, text, failure, history, o.opts.Business)

	switch er.Action {
	case humanize.ActionSilentTransfer:
		return o.escalate(ctx, chatID, text, er.TransferReason, true)

	case humanize.ActionRetryUncensored:
		if !retried {
			res := o.llm.GenerateWithPreference(ctx, o.prompt(chatID), er.PreferredModels, er.Exclusive)
			if res.Success && !humanize.DetectEthicalRefusal(res.Response) {
				return o.reply(ctx, chatID, res.Response, OutcomeRetried)
			}
		}
		return o.escalate(ctx, chatID, text, models.TransferReasonEthicalRefusal, false)

	default:
		if er.Response != "" {
			if err := o.deliver(ctx, chatID, er.Response); err != nil {
				return OutcomeError, err
			}
		}
		if er.ShouldRetry && !retried {
			if err := o.opts.Sleep(ctx, er.Delay); err != nil {
				return OutcomeError, err
			}
			res := o.llm.GenerateResponse(ctx, o.prompt(chatID))
			if res.Success && !humanize.DetectEthicalRefusal(res.Response) {
				return o.reply(ctx, chatID, res.Response, OutcomeRetried)
			}
		}
		return o.escalate(ctx, chatID, text, models.TransferReasonLLMFailure, false)
	}
}

// escalate hands the chat to a human. Non-silent hand-offs are acknowledged
// to the user; silent ones send nothing.
func (o *Orchestrator) escalate(ctx context.Context, chatID, text string, reason models.TransferReason, silent bool) (Outcome, error) {
	history := o.history.Get(chatID)
	if !silent {
		silent = o.transfers.ShouldTransferSilently(reason, text, history, transfer.Signals{})
	}
	rec := o.transfers.CreateTransfer(ctx, transfer.CreateRequest{
		ChatID:         chatID,
		Reason:         reason,
		TriggerMessage: text,
		History:        history,
		Silent:         silent,
	})
	if rec == nil {
		slog.Error("Orchestrator.escalate: transfer could not be recorded", "chatID", chatID, "reason", reason)
	} else if err := o.flow.CancelSession(ctx, chatID); err != nil {
		// The operator owns the chat now; a half-finished booking must not resume.
		slog.Warn("Orchestrator.escalate: failed to cancel booking session", "chatID", chatID, "error", err)
	}
	if silent {
		return OutcomeTransferred, nil
	}

	ack := o.llm.FallbackMessage()
	if reason == models.TransferReasonUserRequested {
		ack = o.opts.HumanAck
	}
	if err := o.deliver(ctx, chatID, ack); err != nil {
		return OutcomeError, err
	}
	return OutcomeTransferred, nil
}

// reply screens an AI reply and delivers it.
func (o *Orchestrator) reply(ctx context.Context, chatID, text string, outcome Outcome) (Outcome, error) {
	out, v := o.humanizer.ProcessResponse(text)
	if !v.Valid {
		slog.Debug("Orchestrator.reply: reply rewritten", "chatID", chatID, "issues", v.Issues)
	}
	if err := o.deliver(ctx, chatID, out); err != nil {
		return OutcomeError, err
	}
	return outcome, nil
}

// deliver waits a human-like typing delay, sends text and records it.
func (o *Orchestrator) deliver(ctx context.Context, chatID, text string) error {
	timing := o.humanizer.Timing()
	if timing.ShouldShowTypingIndicator(len([]rune(text))) {
		if err := o.sender.SendTyping(ctx, chatID, true); err != nil {
			slog.Debug("Orchestrator.deliver: typing indicator failed", "chatID", chatID, "error", err)
		}
	}
	delay := timing.CalculateTypingDelay(len([]rune(text)), humanize.ComplexityOf(text))
	if err := o.opts.Sleep(ctx, delay); err != nil {
		return err
	}

	if _, err := o.sender.SendMessage(ctx, chatID, text, nil); err != nil {
		return fmt.Errorf("failed to deliver reply to %s: %w", chatID, err)
	}
	o.history.Append(chatID, models.AssistantMessage(text))
	return nil
}

func (o *Orchestrator) prompt(chatID string) []models.ChatMessage {
	history := o.history.Get(chatID)
	msgs := make([]models.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, models.SystemMessage(o.opts.SystemPrompt))
	return append(msgs, history...)
}
