// Package transfer manages hand-offs from automation to a human operator.
//
// A transfer is created once per triggering event, gets a fixed priority from
// its reason, and moves through PENDING, IN_PROGRESS and a final COMPLETED or
// CANCELLED status. Records are never deleted.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/util"
)

// Error variables for transfer operations.
var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrInvalidTransition = errors.New("invalid transfer status transition")
)

// Default thresholds for conditional reasons.
const (
	DefaultHighValueThreshold       = 1000.0
	DefaultNegativeEmotionThreshold = -0.5
)

// Signals carries the optional scores used by ShouldTransferSilently.
type Signals struct {
	// ClientValue is the estimated value of the client or order.
	ClientValue float64
	// EmotionScore ranges from -1 (very negative) to 1 (very positive).
	EmotionScore float64
	HasEmotion   bool
}

// CreateRequest describes a transfer to create.
type CreateRequest struct {
	ChatID         string
	Reason         models.TransferReason
	TriggerMessage string
	History        []models.ChatMessage
	// Silent hides the hand-off from the end user.
	Silent   bool
	Metadata map[string]string
}

// Observer is told about every created transfer.
type Observer interface {
	TransferCreated(reason models.TransferReason, silent bool)
}

// Opts configures a Manager.
type Opts struct {
	BusinessName             string
	HighValueThreshold       float64
	NegativeEmotionThreshold float64
	NotifyTimeout            time.Duration
	Now                      func() time.Time
	Observer                 Observer
}

// Option configures a Manager.
type Option func(*Opts)

// WithBusinessName sets the name shown in operator notifications.
func WithBusinessName(name string) Option {
	return func(o *Opts) { o.BusinessName = name }
}

// WithHighValueThreshold sets the client value above which HIGH_VALUE_CLIENT transfers.
func WithHighValueThreshold(v float64) Option {
	return func(o *Opts) { o.HighValueThreshold = v }
}

// WithNegativeEmotionThreshold sets the score below which NEGATIVE_EMOTION transfers.
func WithNegativeEmotionThreshold(v float64) Option {
	return func(o *Opts) { o.NegativeEmotionThreshold = v }
}

// WithNotifyTimeout bounds operator notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.NotifyTimeout = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithObserver reports created transfers.
func WithObserver(obs Observer) Option {
	return func(o *Opts) { o.Observer = obs }
}

// Manager creates and transitions transfers. Safe for concurrent use within
// one process; the state-dir lock keeps a second process out.
type Manager struct {
	repo     store.TransferRepo
	notifier Notifier
	opts     Opts

	mu       sync.Mutex
	lastNano int64

	locks keyedLocks
}

// keyedLocks serializes read-modify-write cycles on the same transfer.
// Entries live only while someone holds or waits for them.
type keyedLocks struct {
	mu    sync.Mutex
	byKey map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.byKey == nil {
		k.byKey = make(map[string]*keyedLock)
	}
	l, ok := k.byKey[key]
	if !ok {
		l = &keyedLock{}
		k.byKey[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.byKey, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byKey)
}

// NewManager creates a Manager. A nil notifier logs notifications only.
func NewManager(repo store.TransferRepo, notifier Notifier, opts ...Option) *Manager {
	o := Opts{
		BusinessName:             "ReplyPipe",
		HighValueThreshold:       DefaultHighValueThreshold,
		NegativeEmotionThreshold: DefaultNegativeEmotionThreshold,
		NotifyTimeout:            DefaultNotifyTimeout,
		Now:                      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Manager{repo: repo, notifier: notifier, opts: o}
}

// ShouldTransferSilently reports whether reason warrants a silent hand-off.
func (m *Manager) ShouldTransferSilently(reason models.TransferReason, message string, history []models.ChatMessage, sig Signals) bool {
	switch reason {
	case models.TransferReasonSimpleQuestionFail,
		models.TransferReasonSuspicionDetected,
		models.TransferReasonCriticalError:
		return true
	case models.TransferReasonHighValueClient:
		return sig.ClientValue > m.opts.HighValueThreshold
	case models.TransferReasonNegativeEmotion:
		return sig.HasEmotion && sig.EmotionScore < m.opts.NegativeEmotionThreshold
	default:
		return false
	}
}

// newID derives a transfer id from the chat id and a strictly increasing timestamp.
func (m *Manager) newID(chatID string, now time.Time) string {
	m.mu.Lock()
	nano := now.UnixNano()
	if nano <= m.lastNano {
		nano = m.lastNano + 1
	}
	m.lastNano = nano
	m.mu.Unlock()

	digits := util.DigitsOnly(chatID)
	if digits == "" {
		digits = "0"
	}
	return fmt.Sprintf("TR-%s-%d", digits, nano)
}

// CreateTransfer persists a new transfer and notifies operators. If the chat
// already has an active transfer, that one is returned instead. On persistence
// failure it logs and returns nil.
func (m *Manager) CreateTransfer(ctx context.Context, req CreateRequest) *models.TransferRecord {
	if existing, err := m.ActiveTransfer(ctx, req.ChatID); err != nil {
		slog.Error("Manager.CreateTransfer: failed to check active transfer", "error", err, "chatID", req.ChatID)
		return nil
	} else if existing != nil {
		slog.Info("Manager.CreateTransfer: chat already has an active transfer", "chatID", req.ChatID, "transferID", existing.TransferID)
		return existing
	}

	now := m.opts.Now()
	rec := &models.TransferRecord{
		TransferID:           m.newID(req.ChatID, now),
		ChatID:               req.ChatID,
		Reason:               req.Reason,
		Priority:             PriorityFor(req.Reason),
		Status:               models.TransferStatusPending,
		Silent:               req.Silent,
		TriggerMessage:       req.TriggerMessage,
		ConversationSnapshot: append([]models.ChatMessage(nil), req.History...),
		Metadata:             copyMetadata(req.Metadata),
		ClientNotified:       !req.Silent,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	ev := store.TransferEvent{TransferID: rec.TransferID, ToStatus: rec.Status, Actor: "system", Note: string(req.Reason), CreatedAt: now}
	if err := m.repo.SaveTransfer(ctx, rec, ev); err != nil {
		slog.Error("Manager.CreateTransfer: failed to persist transfer", "error", err, "chatID", req.ChatID, "reason", req.Reason)
		return nil
	}
	slog.Info("Manager.CreateTransfer: transfer created", "transferID", rec.TransferID, "chatID", rec.ChatID, "reason", rec.Reason, "priority", rec.Priority, "silent", rec.Silent)
	if m.opts.Observer != nil {
		m.opts.Observer.TransferCreated(rec.Reason, rec.Silent)
	}

	m.notify(ctx, rec)
	return rec
}

// notify sends the operator notification and records whether it went out.
func (m *Manager) notify(ctx context.Context, rec *models.TransferRecord) {
	nctx, cancel := context.WithTimeout(ctx, m.opts.NotifyTimeout)
	defer cancel()

	if err := m.notifier.Notify(nctx, BuildNotification(*rec, m.opts.BusinessName)); err != nil {
		slog.Warn("Manager.notify: operator notification failed", "error", err, "transferID", rec.TransferID)
		return
	}
	markNotified(rec)

	// An operator may have picked the transfer up while the notification was
	// in flight, so the flag is applied to the stored record.
	unlock := m.locks.lock(rec.TransferID)
	defer unlock()
	cur, err := m.repo.GetTransfer(ctx, rec.TransferID)
	if err != nil || cur == nil {
		slog.Warn("Manager.notify: failed to reload transfer", "error", err, "transferID", rec.TransferID)
		return
	}
	markNotified(cur)
	cur.UpdatedAt = m.opts.Now()
	ev := store.TransferEvent{TransferID: cur.TransferID, FromStatus: cur.Status, ToStatus: cur.Status, Actor: "system", Note: "operator notified", CreatedAt: cur.UpdatedAt}
	if err := m.repo.SaveTransfer(ctx, cur, ev); err != nil {
		slog.Warn("Manager.notify: failed to record notification", "error", err, "transferID", rec.TransferID)
	}
}

func markNotified(rec *models.TransferRecord) {
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	rec.Metadata["operator_notified"] = "true"
}

// GetTransfer returns the transfer or ErrTransferNotFound.
func (m *Manager) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	rec, err := m.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer %s: %w", transferID, err)
	}
	if rec == nil {
		return nil, ErrTransferNotFound
	}
	return rec, nil
}

// AssignTransfer moves a PENDING transfer to IN_PROGRESS under operator.
func (m *Manager) AssignTransfer(ctx context.Context, transferID, operator string) (*models.TransferRecord, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, models.ErrMissingOperator
	}
	return m.transition(ctx, transferID, models.TransferStatusInProgress, operator, "assigned", func(rec *models.TransferRecord, now time.Time) {
		rec.AssignedTo = operator
		rec.AssignedAt = &now
	})
}

// CompleteTransfer moves an IN_PROGRESS transfer to COMPLETED.
func (m *Manager) CompleteTransfer(ctx context.Context, transferID, resolution string) (*models.TransferRecord, error) {
	return m.transition(ctx, transferID, models.TransferStatusCompleted, "", resolution, func(rec *models.TransferRecord, now time.Time) {
		rec.CompletedAt = &now
		rec.Resolution = resolution
	})
}

// CancelTransfer moves a PENDING or IN_PROGRESS transfer to CANCELLED.
func (m *Manager) CancelTransfer(ctx context.Context, transferID, note string) (*models.TransferRecord, error) {
	return m.transition(ctx, transferID, models.TransferStatusCancelled, "", note, func(rec *models.TransferRecord, now time.Time) {
		rec.CompletedAt = &now
		if note != "" {
			rec.Resolution = note
		}
	})
}

var allowedTransitions = map[models.TransferStatus][]models.TransferStatus{
	models.TransferStatusPending:    {models.TransferStatusInProgress, models.TransferStatusCancelled},
	models.TransferStatusInProgress: {models.TransferStatusCompleted, models.TransferStatusCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.TransferStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition loads, checks and saves under the transfer's lock, so of two
// concurrent requests for the same move only the first succeeds.
func (m *Manager) transition(ctx context.Context, transferID string, to models.TransferStatus, actor, note string, apply func(*models.TransferRecord, time.Time)) (*models.TransferRecord, error) {
	unlock := m.locks.lock(transferID)
	defer unlock()

	rec, err := m.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := m.opts.Now()
	apply(rec, now)
	rec.Status = to
	rec.UpdatedAt = now
	if actor == "" {
		actor = rec.AssignedTo
	}
	ev := store.TransferEvent{TransferID: rec.TransferID, FromStatus: from, ToStatus: to, Actor: actor, Note: note, CreatedAt: now}
	if err := m.repo.SaveTransfer(ctx, rec, ev); err != nil {
		return nil, fmt.Errorf("failed to save transfer %s: %w", transferID, err)
	}
	slog.Info("Manager.transition: transfer updated", "transferID", transferID, "from", from, "to", to, "actor", actor)
	return rec, nil
}

// ListTransfers returns transfers matching f, most urgent first.
func (m *Manager) ListTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error) {
	recs, err := m.repo.QueryTransfers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	return recs, nil
}

// ActiveTransfer returns the chat's PENDING or IN_PROGRESS transfer, or nil.
func (m *Manager) ActiveTransfer(ctx context.Context, chatID string) (*models.TransferRecord, error) {
	recs, err := m.repo.QueryTransfers(ctx, models.TransferFilter{
		ChatID:   chatID,
		Statuses: []models.TransferStatus{models.TransferStatusPending, models.TransferStatusInProgress},
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query active transfer for %s: %w", chatID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Events returns the audit trail of a transfer.
func (m *Manager) Events(ctx context.Context, transferID string) ([]store.TransferEvent, error) {
	return m.repo.ListTransferEvents(ctx, transferID)
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
