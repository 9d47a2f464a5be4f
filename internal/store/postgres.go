// Package store provides storage backends for ReplyPipe.
//
// This file implements a PostgreSQL-backed store; queries are built with squirrel.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveTransfer upserts the transfer and appends the audit event in one transaction.
func (s *PostgresStore) SaveTransfer(ctx context.Context, rec *models.TransferRecord, ev TransferEvent) error {
	snapshot, metadata, err := transferJSON(rec)
	if err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	upsert, upsertArgs, err := psql.Insert("transfers").
		Columns(transferColumns...).
		Values(
			rec.TransferID, rec.ChatID, string(rec.Reason), rec.Priority, string(rec.Status), rec.Silent,
			nilIfEmpty(rec.TriggerMessage), nilIfEmpty(snapshot), nilIfEmpty(rec.AssignedTo), nilIfZero(rec.AssignedAt),
			nilIfZero(rec.CompletedAt), nilIfEmpty(rec.Resolution), nilIfEmpty(metadata), rec.ClientNotified,
			rec.CreatedAt, rec.UpdatedAt,
		).
		Suffix(`ON CONFLICT (transfer_id) DO UPDATE SET
			status = EXCLUDED.status, assigned_to = EXCLUDED.assigned_to, assigned_at = EXCLUDED.assigned_at,
			completed_at = EXCLUDED.completed_at, resolution = EXCLUDED.resolution, metadata = EXCLUDED.metadata,
			client_notified = EXCLUDED.client_notified, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transfer upsert: %w", err)
	}

	insertEvent, eventArgs, err := psql.Insert("transfer_events").
		Columns("transfer_id", "from_status", "to_status", "actor", "note", "created_at").
		Values(rec.TransferID, nilIfEmpty(string(ev.FromStatus)), string(ev.ToStatus), nilIfEmpty(ev.Actor), nilIfEmpty(ev.Note), ev.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transfer event insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsert, upsertArgs...); err != nil {
		slog.Error("PostgresStore SaveTransfer upsert failed", "error", err, "transferID", rec.TransferID)
		return fmt.Errorf("failed to save transfer %s: %w", rec.TransferID, err)
	}
	if _, err := tx.ExecContext(ctx, insertEvent, eventArgs...); err != nil {
		slog.Error("PostgresStore SaveTransfer event insert failed", "error", err, "transferID", rec.TransferID)
		return fmt.Errorf("failed to record transfer event %s: %w", rec.TransferID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer %s: %w", rec.TransferID, err)
	}
	slog.Debug("PostgresStore SaveTransfer succeeded", "transferID", rec.TransferID, "status", rec.Status)
	return nil
}

// GetTransfer loads one transfer by id.
func (s *PostgresStore) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	query, args, err := psql.Select(transferColumns...).From("transfers").Where(sq.Eq{"transfer_id": transferID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer query: %w", err)
	}
	rec, err := scanTransfer(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTransfer failed", "error", err, "transferID", transferID)
		return nil, fmt.Errorf("failed to get transfer %s: %w", transferID, err)
	}
	return &rec, nil
}

// QueryTransfers applies the filter.
func (s *PostgresStore) QueryTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error) {
	query, args, err := transferQuery(psql, f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore QueryTransfers failed", "error", err)
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	return scanTransfers(rows)
}

// ListTransferEvents returns the audit trail for a transfer.
func (s *PostgresStore) ListTransferEvents(ctx context.Context, transferID string) ([]TransferEvent, error) {
	query, args, err := psql.Select("transfer_id", "from_status", "to_status", "actor", "note", "created_at").
		From("transfer_events").
		Where(sq.Eq{"transfer_id": transferID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer event query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer events: %w", err)
	}
	return scanEvents(rows)
}

// SaveAppointment records a confirmed appointment.
func (s *PostgresStore) SaveAppointment(ctx context.Context, a AppointmentRecord) error {
	query, args, err := psql.Insert("appointments").
		Columns(appointmentColumns...).
		Values(a.AppointmentID, a.ChatID, a.Name, nilIfEmpty(a.Email), nilIfEmpty(a.Phone), a.Reason,
			a.Start, a.End, nilIfEmpty(a.MeetingLink), nilIfEmpty(a.CalendarLink), a.Source, a.CreatedAt).
		Suffix("ON CONFLICT (appointment_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build appointment insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("PostgresStore SaveAppointment failed", "error", err, "appointmentID", a.AppointmentID)
		return fmt.Errorf("failed to save appointment %s: %w", a.AppointmentID, err)
	}
	slog.Debug("PostgresStore SaveAppointment succeeded", "appointmentID", a.AppointmentID, "chatID", a.ChatID)
	return nil
}

// ListAppointments returns appointments for chatID, or all when chatID is empty.
func (s *PostgresStore) ListAppointments(ctx context.Context, chatID string) ([]AppointmentRecord, error) {
	builder := psql.Select(appointmentColumns...).From("appointments").OrderBy("start_time")
	if chatID != "" {
		builder = builder.Where(sq.Eq{"chat_id": chatID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	return scanAppointments(rows)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
