// Package messaging delivers messages over WhatsApp through two redundant
// channels and normalizes what arrives on either of them.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Constants for channel services
const (
	// DefaultChannelBufferSize defines the buffer size of inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked emit before the message is dropped
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned by a channel after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrChannelUnavailable is returned when no channel could deliver a message.
	ErrChannelUnavailable = errors.New("no delivery channel available")
	// ErrUnsupportedPayload is returned for raw inbound payloads no channel understands.
	ErrUnsupportedPayload = errors.New("unsupported inbound payload")
	// ErrMalformedPayload is returned for recognized payloads missing required fields.
	ErrMalformedPayload = errors.New("malformed inbound payload")
)

// Channel is one message-delivery backend.
type Channel interface {
	// Name identifies the backend.
	Name() models.ChannelName

	// SendMessage delivers text, with optional media, to a chat.
	SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error)

	// ReceiveMessage normalizes a raw inbound payload of this backend. It returns
	// (nil, nil) for payloads that are valid but carry nothing to answer, and
	// ErrUnsupportedPayload for payloads of another backend.
	ReceiveMessage(raw any) (*models.NormalizedMessage, error)

	// IsAvailable reports whether the backend can currently send.
	IsAvailable(ctx context.Context) bool
}

// Service is a Channel with background processing that produces inbound messages.
type Service interface {
	Channel

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Messages.
	Stop() error

	// Messages returns a channel of normalized inbound messages.
	Messages() <-chan models.NormalizedMessage
}

// Typer is implemented by channels that can show a typing indicator.
type Typer interface {
	SendTyping(ctx context.Context, chatID string, typing bool) error
}
