// Package whatsapp wraps the Whatsmeow client used as ReplyPipe's primary channel.
//
// It provides methods for sending text, media and typing state, and exposes the
// underlying client for event handling.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/replypipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = models.UserServer
	// MaxMediaDownloadBytes bounds media fetched from a URL before upload.
	MaxMediaDownloadBytes = 16 << 20
)

var (
	// ErrNotInitialized is returned when the underlying client is missing.
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	// ErrEmptyRecipient is returned for a blank recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyBody is returned for a blank message body.
	ErrEmptyBody = errors.New("message body cannot be empty")
	// ErrEmptyMedia is returned when media carries neither data nor a URL.
	ErrEmptyMedia = errors.New("media has neither data nor url")
)

// WhatsAppSender is the sending surface of the client (for production and testing).
type WhatsAppSender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
	SendMedia(ctx context.Context, to string, media models.Media) (string, error)
	SendTyping(ctx context.Context, to string, typing bool) error
	IsConnected() bool
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
	HTTPClient  *http.Client
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to print the raw pairing code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithHTTPClient sets the client used to download media given by URL.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	http     *http.Client
}

// NewClient creates a WhatsApp client and connects it, running the QR login
// flow when the device store holds no session yet.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := sqlDriver(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("whatsapp.NewClient: SQLite device store does not enable foreign keys; whatsmeow recommends '?_foreign_keys=on'",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	logger := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("whatsapp.NewClient: already logged in, connecting")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: connected")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{waClient: waClient, http: httpClient}, nil
}

func sqlDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.login: login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Info("whatsapp.login: login event", "event", evt.Event)
	}
	return nil
}

// ParseRecipient converts a chat id or phone number into a JID.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, ErrEmptyRecipient
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid chat id %q: %w", to, err)
		}
		return jid, nil
	}
	chatID := models.ChatIDFromPhone(to)
	if chatID == "" {
		return types.JID{}, fmt.Errorf("invalid phone number %q", to)
	}
	return types.NewJID(strings.TrimSuffix(chatID, "@"+JIDSuffix), JIDSuffix), nil
}

func (c *Client) ready() error {
	if c == nil || c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	return nil
}

// SendMessage sends a text message and discards the message id.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	_, err := c.SendText(ctx, to, body)
	return err
}

// SendText sends a text message and returns its WhatsApp message id.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if body == "" {
		return "", ErrEmptyBody
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return "", err
	}

	slog.Debug("Client.SendText: sending", "to", jid.String(), "body_length", len(body))
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", jid.String(), err)
	}
	return resp.ID, nil
}

// SendMedia uploads media and sends it as an image or document message.
// Media given only by URL is downloaded first.
func (c *Client) SendMedia(ctx context.Context, to string, media models.Media) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return "", err
	}

	data := media.Data
	mimeType := media.MimeType
	if len(data) == 0 {
		if media.URL == "" {
			return "", ErrEmptyMedia
		}
		data, mimeType, err = c.download(ctx, media.URL, mimeType)
		if err != nil {
			return "", err
		}
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	isImage := strings.HasPrefix(mimeType, "image/")
	mediaType := whatsmeow.MediaDocument
	if isImage {
		mediaType = whatsmeow.MediaImage
	}
	up, err := c.waClient.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	msg := &waE2E.Message{}
	if isImage {
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	} else {
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	}

	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send media to %s: %w", jid.String(), err)
	}
	slog.Debug("Client.SendMedia: sent", "to", jid.String(), "mime", mimeType, "bytes", len(data))
	return resp.ID, nil
}

func (c *Client) download(ctx context.Context, url, mimeType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid media url: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > MaxMediaDownloadBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", MaxMediaDownloadBytes)
	}
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return data, mimeType, nil
}

// SendTyping sets or clears the composing indicator in a chat.
func (c *Client) SendTyping(ctx context.Context, to string, typing bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	if err := c.waClient.SendChatPresence(jid, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("failed to send chat presence: %w", err)
	}
	return nil
}

// IsConnected reports whether the websocket is up and the device is logged in.
func (c *Client) IsConnected() bool {
	if c.ready() != nil {
		return false
	}
	return c.waClient.IsConnected() && c.waClient.IsLoggedIn()
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c.ready() == nil {
		c.waClient.Disconnect()
	}
}
