package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/google/uuid"
)

// SignatureValidator verifies X-Twilio-Signature headers.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose signature does not
// match publicURL, the address Twilio was configured to call.
func WithSignatureValidation(v SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = publicURL
	}
}

// TwilioService implements Service using the Twilio API
type TwilioService struct {
	client     twiliowhatsapp.TwilioWhatsAppSender // real Twilio client or MockClient
	validator  SignatureValidator
	webhookURL string
	messages   chan models.NormalizedMessage

	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService around client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:   client,
		messages: make(chan models.NormalizedMessage, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns models.ChannelTwilio.
func (s *TwilioService) Name() models.ChannelName { return models.ChannelTwilio }

// Start is a no-op; inbound messages arrive through TwilioWebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes Messages.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.messages)
	return nil
}

// Messages returns inbound messages received by the webhook.
func (s *TwilioService) Messages() <-chan models.NormalizedMessage {
	return s.messages
}

// IsAvailable reports whether the service is configured and running. Twilio
// is a hosted API, so there is no connection state to probe.
func (s *TwilioService) IsAvailable(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped && s.client != nil
}

// SendMessage sends text with an optional media URL. Media without a URL
// cannot be delivered by Twilio; its caption is sent as text instead.
func (s *TwilioService) SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error) {
	result := models.SendResult{Channel: models.ChannelTwilio}
	if !s.IsAvailable(ctx) {
		result.Error = ErrServiceStopped.Error()
		return result, ErrServiceStopped
	}

	var mediaURLs []string
	if media != nil {
		if media.URL != "" {
			mediaURLs = []string{media.URL}
		} else {
			slog.Warn("TwilioService.SendMessage: media without URL sent as text only", "chatID", chatID)
		}
		if text == "" {
			text = media.Caption
		}
	}

	sid, err := s.client.Send(ctx, chatID, text, mediaURLs)
	if err != nil {
		slog.Error("TwilioService.SendMessage: send failed", "error", err, "chatID", chatID)
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	result.MessageID = sid
	result.SentAt = time.Now()
	slog.Debug("TwilioService.SendMessage: sent", "chatID", chatID, "sid", sid, "body_length", len(text))
	return result, nil
}

// ReceiveMessage normalizes a Twilio webhook form given as url.Values or map[string]string.
func (s *TwilioService) ReceiveMessage(raw any) (*models.NormalizedMessage, error) {
	fields, ok := twilioFields(raw)
	if !ok {
		return nil, ErrUnsupportedPayload
	}
	return normalizeTwilioForm(fields)
}

// twilioFields flattens the supported payload shapes; ok is false when raw is
// not a Twilio webhook form.
func twilioFields(raw any) (map[string]string, bool) {
	var fields map[string]string
	switch v := raw.(type) {
	case url.Values:
		fields = make(map[string]string, len(v))
		for k := range v {
			fields[k] = v.Get(k)
		}
	case map[string]string:
		fields = v
	case map[string]any:
		fields = make(map[string]string, len(v))
		for k, val := range v {
			if str, ok := val.(string); ok {
				fields[k] = str
			}
		}
	default:
		return nil, false
	}
	if fields["MessageSid"] == "" && fields["SmsMessageSid"] == "" {
		return nil, false
	}
	return fields, true
}

func normalizeTwilioForm(f map[string]string) (*models.NormalizedMessage, error) {
	from := strings.TrimPrefix(f["From"], twiliowhatsapp.AddressPrefix)
	chatID := models.ChatIDFromPhone(from)
	if chatID == "" {
		return nil, fmt.Errorf("%w: missing From", ErrMalformedPayload)
	}

	id := f["MessageSid"]
	if id == "" {
		id = f["SmsMessageSid"]
	}
	if id == "" {
		id = uuid.NewString()
	}

	msg := &models.NormalizedMessage{
		ID:         id,
		ChatID:     chatID,
		SenderName: f["ProfileName"],
		Text:       strings.TrimSpace(f["Body"]),
		Channel:    models.ChannelTwilio,
		ReceivedAt: time.Now(),
	}
	if n, _ := strconv.Atoi(f["NumMedia"]); n > 0 {
		msg.MediaURL = f["MediaUrl0"]
		msg.MediaType, _, _ = strings.Cut(f["MediaContentType0"], "/")
	}
	if msg.Text == "" && msg.MediaURL == "" {
		return nil, nil
	}
	return msg, nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits the
// normalized message on Messages.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.Webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.ValidateSignature(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.Webhook: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	msg, err := s.ReceiveMessage(r.PostForm)
	if err != nil {
		slog.Warn("TwilioService.Webhook: rejected payload", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if msg != nil {
		s.emit(*msg)
	}

	// Empty TwiML: the reply is sent asynchronously through the REST API.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) emit(msg models.NormalizedMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService.emit: dropping inbound message (service stopped)", "chatID", msg.ChatID)
		return
	}
	select {
	case s.messages <- msg:
		slog.Debug("TwilioService.emit: inbound message forwarded", "chatID", msg.ChatID, "messageID", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.emit: messages channel blocked, dropping message", "chatID", msg.ChatID)
	}
}
