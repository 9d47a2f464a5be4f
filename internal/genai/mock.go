package genai

import (
	"context"
	"sync"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// MockClient is an Adapter for tests. Replies are consumed in order; the last
// one is repeated once the list is exhausted.
type MockClient struct {
	mu       sync.Mutex
	Replies  []MockReply
	Calls    int
	Received [][]models.ChatMessage
}

// MockReply is one scripted answer.
type MockReply struct {
	Content    string
	TokensUsed int
	Err        error
}

// NewMockClient creates a mock that always answers content.
func NewMockClient(content string) *MockClient {
	return &MockClient{Replies: []MockReply{{Content: content, TokensUsed: len(content) / 4}}}
}

// NewFailingMockClient creates a mock that always fails with err.
func NewFailingMockClient(err error) *MockClient {
	return &MockClient{Replies: []MockReply{{Err: err}}}
}

// Complete returns the next scripted reply.
func (m *MockClient) Complete(ctx context.Context, messages []models.ChatMessage) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Received = append(m.Received, append([]models.ChatMessage(nil), messages...))
	idx := m.Calls
	m.Calls++
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if len(m.Replies) == 0 {
		return Completion{}, ErrEmptyResponse
	}
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	r := m.Replies[idx]
	if r.Err != nil {
		return Completion{}, r.Err
	}
	return Completion{Content: r.Content, TokensUsed: r.TokensUsed, Model: "mock"}, nil
}

// CallCount returns the number of Complete calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
