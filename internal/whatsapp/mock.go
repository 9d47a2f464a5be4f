package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// SentMessage records one message passed to MockClient.
type SentMessage struct {
	To    string
	Body  string
	Media *models.Media
}

// MockClient implements WhatsAppSender without a WhatsApp connection.
// In tests, use NewMockClient() instead of NewClient.
type MockClient struct {
	mu        sync.Mutex
	Sent      []SentMessage
	Typing    []bool
	Connected bool
	// Err, when set, is returned by every send.
	Err error
	seq int
}

var _ WhatsAppSender = (*MockClient)(nil)

// NewMockClient returns a connected mock.
func NewMockClient() *MockClient {
	return &MockClient{Connected: true}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	_, err := m.SendText(ctx, to, body)
	return err
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	m.seq++
	return fmt.Sprintf("WAMOCK%04d", m.seq), nil
}

func (m *MockClient) SendMedia(ctx context.Context, to string, media models.Media) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: media.Caption, Media: &media})
	m.seq++
	return fmt.Sprintf("WAMOCK%04d", m.seq), nil
}

func (m *MockClient) SendTyping(ctx context.Context, to string, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, typing)
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected
}

// SetConnected flips the reported connection state.
func (m *MockClient) SetConnected(v bool) {
	m.mu.Lock()
	m.Connected = v
	m.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
