package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to the underlying client for event handling
	messages chan models.NormalizedMessage

	mu        sync.RWMutex
	stopped   bool
	handlerID uint32
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.NormalizedMessage, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService.New: created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService.New: created with interface client (likely mock)")
	}
	return service
}

// Name returns models.ChannelWhatsmeow.
func (s *WhatsAppService) Name() models.ChannelName { return models.ChannelWhatsmeow }

// Start registers the whatsmeow event handler when a full client is present.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop unregisters the event handler and closes Messages.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil && s.handlerID != 0 {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	close(s.messages)
	slog.Info("WhatsAppService.Stop: stopped and channel closed")
	return nil
}

// Messages returns inbound WhatsApp messages.
func (s *WhatsAppService) Messages() <-chan models.NormalizedMessage {
	return s.messages
}

// IsAvailable reports whether the client is connected and logged in.
func (s *WhatsAppService) IsAvailable(ctx context.Context) bool {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	return !stopped && s.client != nil && s.client.IsConnected()
}

// SendMessage sends text, or media captioned with text.
func (s *WhatsAppService) SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error) {
	result := models.SendResult{Channel: models.ChannelWhatsmeow}
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		result.Error = ErrServiceStopped.Error()
		return result, ErrServiceStopped
	}

	var (
		id  string
		err error
	)
	if media != nil {
		m := *media
		if m.Caption == "" {
			m.Caption = text
		}
		id, err = s.client.SendMedia(ctx, chatID, m)
	} else {
		id, err = s.client.SendText(ctx, chatID, text)
	}
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "chatID", chatID)
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	result.MessageID = id
	result.SentAt = time.Now()
	slog.Debug("WhatsAppService.SendMessage: sent", "chatID", chatID, "messageID", id, "body_length", len(text))
	return result, nil
}

// SendTyping forwards typing state to the client.
func (s *WhatsAppService) SendTyping(ctx context.Context, chatID string, typing bool) error {
	return s.client.SendTyping(ctx, chatID, typing)
}

// ReceiveMessage normalizes a *events.Message.
func (s *WhatsAppService) ReceiveMessage(raw any) (*models.NormalizedMessage, error) {
	evt, ok := raw.(*events.Message)
	if !ok {
		return nil, ErrUnsupportedPayload
	}
	return normalizeWhatsAppEvent(evt), nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg := normalizeWhatsAppEvent(v); msg != nil {
			s.emit(*msg)
		}
	case *events.Connected:
		slog.Info("WhatsAppService.handleEvent: connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService.handleEvent: disconnected")
	case *events.LoggedOut:
		slog.Error("WhatsAppService.handleEvent: logged out; primary channel unavailable until re-login")
	}
}

func (s *WhatsAppService) emit(msg models.NormalizedMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService.emit: dropping inbound message (service stopped)", "chatID", msg.ChatID)
		return
	}
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService.emit: inbound message forwarded", "chatID", msg.ChatID, "messageID", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emit: messages channel blocked, dropping message", "chatID", msg.ChatID, "timeout", DefaultChannelTimeout)
	}
}

// normalizeWhatsAppEvent converts a whatsmeow message event. Own messages,
// status broadcasts and messages without text or media yield nil.
func normalizeWhatsAppEvent(evt *events.Message) *models.NormalizedMessage {
	if evt == nil || evt.Message == nil {
		return nil
	}
	if evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return nil
	}

	m := evt.Message
	var text, mediaType string
	switch {
	case m.GetConversation() != "":
		text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		text, mediaType = m.GetImageMessage().GetCaption(), "image"
	case m.GetVideoMessage() != nil:
		text, mediaType = m.GetVideoMessage().GetCaption(), "video"
	case m.GetDocumentMessage() != nil:
		text, mediaType = m.GetDocumentMessage().GetCaption(), "document"
	case m.GetAudioMessage() != nil:
		mediaType = "audio"
	}
	text = strings.TrimSpace(text)
	if text == "" && mediaType == "" {
		return nil
	}

	return &models.NormalizedMessage{
		ID:         evt.Info.ID,
		ChatID:     evt.Info.Chat.ToNonAD().String(),
		SenderName: evt.Info.PushName,
		Text:       text,
		MediaType:  mediaType,
		Channel:    models.ChannelWhatsmeow,
		ReceivedAt: evt.Info.Timestamp,
	}
}
