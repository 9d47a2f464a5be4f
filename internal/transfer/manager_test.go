package transfer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

const chat = "5215512345678@s.whatsapp.net"

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type failingRepo struct {
	*store.InMemoryStore
}

func (failingRepo) SaveTransfer(ctx context.Context, rec *models.TransferRecord, ev store.TransferEvent) error {
	return errors.New("disk full")
}

func newManager(t *testing.T, n Notifier) (*Manager, *store.InMemoryStore) {
	t.Helper()
	repo := store.NewInMemoryStore()
	return NewManager(repo, n, WithClock(func() time.Time { return fixedNow }), WithBusinessName("Clínica Sonrisa")), repo
}

func TestPriorityTable(t *testing.T) {
	assert.Equal(t, 10, PriorityFor(models.TransferReasonSuspicionDetected))
	assert.Equal(t, 3, PriorityFor(models.TransferReasonLLMFailure))
	for reason := range priorities {
		p := PriorityFor(reason)
		assert.GreaterOrEqual(t, p, MinPriority)
		assert.LessOrEqual(t, p, MaxPriority)
		assert.Equal(t, p, PriorityFor(reason), "priority must be deterministic")
	}
}

func TestShouldTransferSilently(t *testing.T) {
	m, _ := newManager(t, nil)

	assert.True(t, m.ShouldTransferSilently(models.TransferReasonSimpleQuestionFail, "", nil, Signals{}))
	assert.True(t, m.ShouldTransferSilently(models.TransferReasonSuspicionDetected, "", nil, Signals{}))
	assert.True(t, m.ShouldTransferSilently(models.TransferReasonCriticalError, "", nil, Signals{}))

	assert.False(t, m.ShouldTransferSilently(models.TransferReasonHighValueClient, "", nil, Signals{ClientValue: 500}))
	assert.True(t, m.ShouldTransferSilently(models.TransferReasonHighValueClient, "", nil, Signals{ClientValue: 5000}))

	assert.False(t, m.ShouldTransferSilently(models.TransferReasonNegativeEmotion, "", nil, Signals{}))
	assert.False(t, m.ShouldTransferSilently(models.TransferReasonNegativeEmotion, "", nil, Signals{EmotionScore: -0.2, HasEmotion: true}))
	assert.True(t, m.ShouldTransferSilently(models.TransferReasonNegativeEmotion, "", nil, Signals{EmotionScore: -0.9, HasEmotion: true}))

	assert.False(t, m.ShouldTransferSilently(models.TransferReasonUserRequested, "", nil, Signals{}))
	assert.False(t, m.ShouldTransferSilently(models.TransferReasonLLMFailure, "", nil, Signals{}))
}

func TestCreateTransfer(t *testing.T) {
	n := &recordingNotifier{}
	m, repo := newManager(t, n)
	history := []models.ChatMessage{models.UserMessage("hola"), models.AssistantMessage("¡Hola!"), models.UserMessage("¿cómo te llamas?")}

	rec := m.CreateTransfer(context.Background(), CreateRequest{
		ChatID:         chat,
		Reason:         models.TransferReasonSimpleQuestionFail,
		TriggerMessage: "¿cómo te llamas?",
		History:        history,
		Silent:         true,
	})
	require.NotNil(t, rec)
	assert.True(t, strings.HasPrefix(rec.TransferID, "TR-5215512345678-"))
	assert.Equal(t, 6, rec.Priority)
	assert.Equal(t, models.TransferStatusPending, rec.Status)
	assert.False(t, rec.ClientNotified)
	assert.Len(t, rec.ConversationSnapshot, 3)

	stored, err := repo.GetTransfer(context.Background(), rec.TransferID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "true", stored.Metadata["operator_notified"])

	require.Len(t, n.sent, 1)
	assert.True(t, n.sent[0].Silent)
	assert.Contains(t, n.sent[0].Body, "No menciones que hubo una transferencia")
	assert.Contains(t, n.sent[0].Subject, "Clínica Sonrisa")
	assert.Contains(t, n.sent[0].Body, "¿cómo te llamas?")
}

func TestCreateTransferExplicit(t *testing.T) {
	n := &recordingNotifier{}
	m, _ := newManager(t, n)
	rec := m.CreateTransfer(context.Background(), CreateRequest{ChatID: chat, Reason: models.TransferReasonUserRequested, TriggerMessage: "quiero hablar con una persona"})
	require.NotNil(t, rec)
	assert.True(t, rec.ClientNotified)
	require.Len(t, n.sent, 1)
	assert.False(t, n.sent[0].Silent)
	assert.Contains(t, n.sent[0].Body, "pidió hablar con una persona")
}

func TestBuildNotificationByReason(t *testing.T) {
	tests := []struct {
		reason  models.TransferReason
		silent  bool
		subject string
		body    string
	}{
		{models.TransferReasonUserRequested, false, "pidió hablar con una persona", "Ya se le avisó"},
		{models.TransferReasonLLMFailure, false, "Conversación en espera", "no se pudo generar una respuesta"},
		{models.TransferReasonEthicalRefusal, false, "Conversación en espera", "rechazó el tema"},
		{models.TransferReasonComplexQuery, false, "Conversación en espera", "requiere a una persona"},
		{models.TransferReasonComplexQuery, true, "Transferencia silenciosa", "No menciones"},
		{models.TransferReasonSuspicionDetected, true, "Transferencia silenciosa", "No menciones"},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			rec := models.TransferRecord{TransferID: "TR-1-1", ChatID: chat, Reason: tt.reason, Priority: PriorityFor(tt.reason), Silent: tt.silent}
			n := BuildNotification(rec, "Clínica Sonrisa")
			assert.Contains(t, n.Subject, tt.subject)
			assert.Contains(t, n.Body, tt.body)
			if tt.reason != models.TransferReasonUserRequested {
				assert.NotContains(t, n.Subject+n.Body, "pidió hablar con una persona")
			}
		})
	}
}

func TestCreateTransferReturnsActive(t *testing.T) {
	m, _ := newManager(t, nil)
	first := m.CreateTransfer(context.Background(), CreateRequest{ChatID: chat, Reason: models.TransferReasonLLMFailure})
	second := m.CreateTransfer(context.Background(), CreateRequest{ChatID: chat, Reason: models.TransferReasonCriticalError})
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.TransferID, second.TransferID)
}

func TestCreateTransferUniqueIDs(t *testing.T) {
	m, _ := newManager(t, nil)
	a := m.newID(chat, fixedNow)
	b := m.newID(chat, fixedNow)
	assert.NotEqual(t, a, b)
}

func TestCreateTransferPersistenceFailure(t *testing.T) {
	n := &recordingNotifier{}
	m := NewManager(failingRepo{store.NewInMemoryStore()}, n)
	rec := m.CreateTransfer(context.Background(), CreateRequest{ChatID: chat, Reason: models.TransferReasonLLMFailure})
	assert.Nil(t, rec)
	assert.Empty(t, n.sent, "no notification without a persisted record")
}

func TestCreateTransferNotificationFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp down")}
	m, repo := newManager(t, n)
	rec := m.CreateTransfer(context.Background(), CreateRequest{ChatID: chat, Reason: models.TransferReasonLLMFailure})
	require.NotNil(t, rec)
	stored, _ := repo.GetTransfer(context.Background(), rec.TransferID)
	assert.Empty(t, stored.Metadata["operator_notified"])
}

func TestLifecycle(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	rec := m.CreateTransfer(ctx, CreateRequest{ChatID: chat, Reason: models.TransferReasonComplexQuery})
	require.NotNil(t, rec)

	_, err := m.CompleteTransfer(ctx, rec.TransferID, "done")
	assert.ErrorIs(t, err, ErrInvalidTransition, "PENDING cannot complete directly")

	_, err = m.AssignTransfer(ctx, rec.TransferID, "  ")
	assert.ErrorIs(t, err, models.ErrMissingOperator)

	assigned, err := m.AssignTransfer(ctx, rec.TransferID, "maria")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusInProgress, assigned.Status)
	assert.Equal(t, "maria", assigned.AssignedTo)
	require.NotNil(t, assigned.AssignedAt)

	_, err = m.AssignTransfer(ctx, rec.TransferID, "pedro")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	done, err := m.CompleteTransfer(ctx, rec.TransferID, "cita agendada")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, done.Status)
	assert.Equal(t, "cita agendada", done.Resolution)

	_, err = m.CancelTransfer(ctx, rec.TransferID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	active, err := m.ActiveTransfer(ctx, chat)
	require.NoError(t, err)
	assert.Nil(t, active)

	events, err := m.Events(ctx, rec.TransferID)
	require.NoError(t, err)
	var to []models.TransferStatus
	for _, ev := range events {
		to = append(to, ev.ToStatus)
	}
	assert.Equal(t, []models.TransferStatus{
		models.TransferStatusPending,
		models.TransferStatusPending,
		models.TransferStatusInProgress,
		models.TransferStatusCompleted,
	}, to)
}

func TestConcurrentAssignOnlyOneWins(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	rec := m.CreateTransfer(ctx, CreateRequest{ChatID: chat, Reason: models.TransferReasonComplexQuery})
	require.NotNil(t, rec)
	before, err := m.Events(ctx, rec.TransferID)
	require.NoError(t, err)

	operators := []string{"ana", "luis", "marta", "pedro"}
	errs := make([]error, len(operators))
	var wg sync.WaitGroup
	for i, op := range operators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.AssignTransfer(ctx, rec.TransferID, op)
		}()
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, winners)

	after, err := m.Events(ctx, rec.TransferID)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1, "one assignment event")
	assert.Zero(t, m.locks.len(), "locks are released")
}

func TestCancelPending(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	rec := m.CreateTransfer(ctx, CreateRequest{ChatID: chat, Reason: models.TransferReasonLLMFailure})
	require.NotNil(t, rec)

	cancelled, err := m.CancelTransfer(ctx, rec.TransferID, "resuelto por el bot")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCancelled, cancelled.Status)
}

func TestTransferNotFound(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.AssignTransfer(context.Background(), "TR-missing", "maria")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestListTransfersOrder(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	m.CreateTransfer(ctx, CreateRequest{ChatID: "1@s.whatsapp.net", Reason: models.TransferReasonLLMFailure})
	m.CreateTransfer(ctx, CreateRequest{ChatID: "2@s.whatsapp.net", Reason: models.TransferReasonSuspicionDetected})
	m.CreateTransfer(ctx, CreateRequest{ChatID: "3@s.whatsapp.net", Reason: models.TransferReasonUserRequested})

	recs, err := m.ListTransfers(ctx, models.TransferFilter{Statuses: []models.TransferStatus{models.TransferStatusPending}})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{10, 8, 3}, []int{recs[0].Priority, recs[1].Priority, recs[2].Priority})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.TransferStatusPending, models.TransferStatusInProgress))
	assert.True(t, CanTransition(models.TransferStatusPending, models.TransferStatusCancelled))
	assert.True(t, CanTransition(models.TransferStatusInProgress, models.TransferStatusCompleted))
	assert.False(t, CanTransition(models.TransferStatusCompleted, models.TransferStatusPending))
	assert.False(t, CanTransition(models.TransferStatusCancelled, models.TransferStatusInProgress))
}

type fakeSender struct {
	sent map[string]string
	fail string
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) error {
	if to == f.fail {
		return errors.New("not on whatsapp")
	}
	f.sent[to] = body
	return nil
}

func TestWhatsAppNotifier(t *testing.T) {
	s := &fakeSender{sent: map[string]string{}, fail: "+520000"}
	w := NewWhatsAppNotifier(s, []string{"+5211111", "+520000", "+5222222"})
	err := w.Notify(context.Background(), Notification{Body: "hola"})
	assert.Error(t, err)
	assert.Len(t, s.sent, 2, "every operator is attempted")
}

type fakeDialer struct {
	msgs []*gomail.Message
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.msgs = append(f.msgs, m...)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	_, err := NewEmailNotifier("", 587, "", "", "", nil)
	assert.ErrorIs(t, err, ErrSMTPNotConfigured)

	d := &fakeDialer{}
	e := &EmailNotifier{dialer: d, from: "bot@example.com", to: []string{"ops@example.com"}}
	rec := models.TransferRecord{TransferID: "TR-1-1", ChatID: chat, Reason: models.TransferReasonLLMFailure, Priority: 3, Silent: true}
	require.NoError(t, e.Notify(context.Background(), BuildNotification(rec, "Acme")))
	require.Len(t, d.msgs, 1)
	assert.Equal(t, []string{"ops@example.com"}, d.msgs[0].GetHeader("To"))
	assert.Contains(t, d.msgs[0].GetHeader("Subject")[0], "TR-1-1")
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{err: errors.New("x")}
	err := MultiNotifier{a, b, LogNotifier{}}.Notify(context.Background(), Notification{})
	assert.Error(t, err)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}
