// Package twiliowhatsapp wraps the Twilio API used as ReplyPipe's backup WhatsApp channel.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks a Twilio WhatsApp address ("whatsapp:+15551234567").
const AddressPrefix = "whatsapp:"

var (
	// ErrMissingCredentials is returned when the account SID or auth token is absent.
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	// ErrMissingFrom is returned when no sender number is configured.
	ErrMissingFrom = errors.New("from number must be provided")
)

// TwilioWhatsAppSender is the sending surface of the client.
type TwilioWhatsAppSender interface {
	// Send delivers body with optional media URLs and returns the message SID.
	Send(ctx context.Context, to string, body string, mediaURLs []string) (string, error)
}

// messageCreator is the part of the Twilio REST API used by Client.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	validator client.RequestValidator
	fromWhats string // "whatsapp:+1234567890"
}

// NewClient creates a Twilio client. Unset options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingFrom
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		api:       rest.Api,
		validator: client.NewRequestValidator(cfg.AuthToken),
		fromWhats: Address(cfg.FromWhats),
	}, nil
}

// Address converts a phone number or chat id into a Twilio WhatsApp address.
func Address(to string) string {
	to = strings.TrimSpace(to)
	if strings.HasPrefix(to, AddressPrefix) {
		return to
	}
	if phone := models.PhoneFromChatID(to); phone != "" {
		return AddressPrefix + phone
	}
	if !strings.HasPrefix(to, "+") {
		to = "+" + to
	}
	return AddressPrefix + to
}

// Send sends a WhatsApp message through Twilio and returns its SID.
func (c *Client) Send(ctx context.Context, to string, body string, mediaURLs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr := Address(to)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(addr)
	params.SetFrom(c.fromWhats)
	if body != "" {
		params.SetBody(body)
	}
	if len(mediaURLs) > 0 {
		params.SetMediaUrl(mediaURLs)
	}

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", addr, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Client.Send: twilio message created", "to", addr, "sid", sid, "media", len(mediaURLs))
	return sid, nil
}

// SendMessage sends a text message and discards the SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	_, err := c.Send(ctx, to, body, nil)
	return err
}

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// SentMessage records one message passed to MockClient.
type SentMessage struct {
	To        string
	Body      string
	MediaURLs []string
}

// MockClient implements TwilioWhatsAppSender for tests.
type MockClient struct {
	SentMessages []SentMessage
	// Err, when set, is returned by every send.
	Err error
}

var _ TwilioWhatsAppSender = (*MockClient)(nil)

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) Send(ctx context.Context, to string, body string, mediaURLs []string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body, MediaURLs: mediaURLs})
	return fmt.Sprintf("SM%032d", len(m.SentMessages)), nil
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	_, err := m.Send(ctx, to, body, nil)
	return err
}
