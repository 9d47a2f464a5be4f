// Package testutil provides shared fixtures and assertions for ReplyPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/transfer"
)

// Epoch is the fixed instant test clocks start at, a Monday morning.
var Epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock. Safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a Clock set to start, or Epoch when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = Epoch
	}
	return &Clock{t: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ChatID returns a distinct canonical chat id for n.
func ChatID(n int) string {
	return fmt.Sprintf("52155%08d@%s", n, models.UserServer)
}

// NewTransferManager returns a Manager over a fresh in-memory store driven by clock.
func NewTransferManager(t *testing.T, clock *Clock, opts ...transfer.Option) (*transfer.Manager, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	opts = append([]transfer.Option{transfer.WithClock(clock.Now)}, opts...)
	return transfer.NewManager(st, nil, opts...), st
}

// SeedTransfer creates a transfer for chatID and fails the test if none comes back.
func SeedTransfer(t *testing.T, m *transfer.Manager, chatID string, reason models.TransferReason) *models.TransferRecord {
	t.Helper()
	rec := m.CreateTransfer(context.Background(), transfer.CreateRequest{
		ChatID:         chatID,
		Reason:         reason,
		TriggerMessage: "quiero hablar con una persona",
		History:        []models.ChatMessage{models.UserMessage("quiero hablar con una persona")},
	})
	if rec == nil {
		t.Fatalf("SeedTransfer: CreateTransfer returned nil for %s", chatID)
	}
	return rec
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONStatus decodes an APIResponse and checks its status field.
func AssertJSONStatus(t testing.TB, rr *httptest.ResponseRecorder, expected string) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != expected {
		t.Errorf("expected JSON status %q, got %q (message %q)", expected, resp.Status, resp.Message)
	}
	return resp
}

// DecodeResult unmarshals the result field of an APIResponse body into target.
func DecodeResult(t testing.TB, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	env := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	if err := json.Unmarshal(env.Result, target); err != nil {
		t.Fatalf("invalid result %q: %v", string(env.Result), err)
	}
}
