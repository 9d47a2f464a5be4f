// Package store provides storage backends for ReplyPipe.
//
// It persists transfer records and their audit trail, locally recorded
// appointments, and inbound message ids used for deduplication. Backends are
// in-memory, SQLite, and PostgreSQL.
package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// TransferEvent is one audit entry for a transfer status change.
type TransferEvent struct {
	TransferID string                `json:"transfer_id"`
	FromStatus models.TransferStatus `json:"from_status,omitempty"`
	ToStatus   models.TransferStatus `json:"to_status"`
	Actor      string                `json:"actor,omitempty"`
	Note       string                `json:"note,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// AppointmentRecord is an appointment confirmed through the booking flow.
type AppointmentRecord struct {
	AppointmentID string    `json:"appointment_id"`
	ChatID        string    `json:"chat_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Reason        string    `json:"reason"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	MeetingLink   string    `json:"meeting_link,omitempty"`
	CalendarLink  string    `json:"calendar_link,omitempty"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// Appointment sources.
const (
	AppointmentSourceCalendar = "calendar"
	AppointmentSourceLocal    = "local"
)

// TransferRepo persists transfer records.
type TransferRepo interface {
	// SaveTransfer upserts rec and appends ev to its audit trail atomically.
	SaveTransfer(ctx context.Context, rec *models.TransferRecord, ev TransferEvent) error
	// GetTransfer returns the record, or nil if it does not exist.
	GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error)
	// QueryTransfers returns matching records, highest priority first, then oldest first.
	QueryTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error)
	// ListTransferEvents returns the audit trail of a transfer in insertion order.
	ListTransferEvents(ctx context.Context, transferID string) ([]TransferEvent, error)
}

// AppointmentRepo persists appointments confirmed by the booking flow.
type AppointmentRepo interface {
	SaveAppointment(ctx context.Context, rec AppointmentRecord) error
	ListAppointments(ctx context.Context, chatID string) ([]AppointmentRecord, error)
}

// Store is the full persistence surface of ReplyPipe.
type Store interface {
	TransferRepo
	AppointmentRepo
	DedupRepo
	Close() error
}

// Opts holds configuration for persistent stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open returns the backend selected by dsn; an empty dsn yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.Open: detected PostgreSQL DSN")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("store.Open: detected SQLite DSN", "db_path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
