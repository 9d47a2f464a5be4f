package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"gopkg.in/gomail.v2"
)

// Notification is what an operator receives when a transfer is created.
type Notification struct {
	Transfer models.TransferRecord
	Silent   bool
	Subject  string
	Body     string
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// snapshotLines is how much history is quoted in a notification.
const snapshotLines = 6

// BuildNotification renders the operator message for rec.
func BuildNotification(rec models.TransferRecord, businessName string) Notification {
	var b strings.Builder
	var subject string
	switch {
	case rec.Silent:
		subject = fmt.Sprintf("[%s] Transferencia silenciosa %s (prioridad %d)", businessName, rec.TransferID, rec.Priority)
		fmt.Fprintf(&b, "🔕 Transferencia silenciosa para el chat %s\n", rec.ChatID)
		b.WriteString("Continúa la conversación con el cliente como si fueras quien le venía respondiendo. No menciones que hubo una transferencia.\n")
	case rec.Reason == models.TransferReasonUserRequested:
		subject = fmt.Sprintf("[%s] El cliente pidió hablar con una persona %s (prioridad %d)", businessName, rec.TransferID, rec.Priority)
		fmt.Fprintf(&b, "🙋 El cliente del chat %s pidió hablar con una persona.\n", rec.ChatID)
		b.WriteString("Ya se le avisó que alguien del equipo lo atenderá.\n")
	default:
		subject = fmt.Sprintf("[%s] Conversación en espera %s (prioridad %d)", businessName, rec.TransferID, rec.Priority)
		fmt.Fprintf(&b, "⏳ El chat %s necesita atención: %s.\n", rec.ChatID, reasonText(rec.Reason))
		b.WriteString("El cliente recibió una respuesta de espera. Retoma la conversación sin contradecirla.\n")
	}
	fmt.Fprintf(&b, "\nMotivo: %s\nPrioridad: %d\nMensaje: %q\n", rec.Reason, rec.Priority, rec.TriggerMessage)

	history := rec.ConversationSnapshot
	if len(history) > snapshotLines {
		history = history[len(history)-snapshotLines:]
	}
	if len(history) > 0 {
		b.WriteString("\nÚltimos mensajes:\n")
		for _, m := range history {
			who := "Cliente"
			if m.Role == models.RoleAssistant {
				who = "Nosotros"
			}
			fmt.Fprintf(&b, "- %s: %s\n", who, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nAsigna la transferencia %s antes de responder.", rec.TransferID)
	return Notification{Transfer: rec, Silent: rec.Silent, Subject: subject, Body: b.String()}
}

// reasonText describes a non-silent, non-requested hand-off for operators.
func reasonText(r models.TransferReason) string {
	switch r {
	case models.TransferReasonLLMFailure:
		return "no se pudo generar una respuesta automática"
	case models.TransferReasonEthicalRefusal:
		return "la respuesta automática rechazó el tema"
	case models.TransferReasonComplexQuery:
		return "la consulta requiere a una persona"
	case models.TransferReasonHighValueClient:
		return "cliente de alto valor"
	case models.TransferReasonNegativeEmotion:
		return "el cliente parece molesto"
	default:
		return strings.ToLower(strings.ReplaceAll(string(r), "_", " "))
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.Info("LogNotifier.Notify: transfer notification",
		"transferID", n.Transfer.TransferID,
		"chatID", n.Transfer.ChatID,
		"reason", n.Transfer.Reason,
		"priority", n.Transfer.Priority,
		"silent", n.Silent)
	return nil
}

// mailSender is the part of gomail.Dialer used by EmailNotifier.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	dialer mailSender
	from   string
	to     []string
}

// ErrSMTPNotConfigured is returned when required SMTP settings are missing.
var ErrSMTPNotConfigured = errors.New("SMTP not configured")

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(host string, port int, username, password, from string, to []string) (*EmailNotifier, error) {
	if host == "" || from == "" || len(to) == 0 {
		return nil, ErrSMTPNotConfigured
	}
	return &EmailNotifier{dialer: gomail.NewDialer(host, port, username, password), from: from, to: to}, nil
}

// Notify sends n as a plain-text e-mail to every recipient.
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/plain", n.Body)

	done := make(chan error, 1)
	go func() { done <- e.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MessageSender sends a text message to a phone or chat id.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) error
}

// WhatsAppNotifier sends notifications to operator phones over WhatsApp.
type WhatsAppNotifier struct {
	sender    MessageSender
	operators []string
}

// NewWhatsAppNotifier creates a notifier for the given operator numbers.
func NewWhatsAppNotifier(sender MessageSender, operators []string) *WhatsAppNotifier {
	return &WhatsAppNotifier{sender: sender, operators: operators}
}

// Notify sends n.Body to every operator. All operators are attempted.
func (w *WhatsAppNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, op := range w.operators {
		if err := w.sender.SendText(ctx, op, n.Body); err != nil {
			errs = append(errs, fmt.Errorf("operator %s: %w", op, err))
		}
	}
	return errors.Join(errs...)
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

// Notify calls every notifier and joins their errors.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultNotifyTimeout bounds one round of notifications.
const DefaultNotifyTimeout = 20 * time.Second
