// Package store provides storage backends for ReplyPipe.
//
// This file implements an SQLite-backed store for transfers and appointments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists records in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serializing on one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "db_path", dsn)

	return &SQLiteStore{db: db}, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// SaveTransfer upserts the transfer and appends the audit event in one transaction.
func (s *SQLiteStore) SaveTransfer(ctx context.Context, rec *models.TransferRecord, ev TransferEvent) error {
	snapshot, metadata, err := transferJSON(rec)
	if err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (transfer_id, chat_id, reason, priority, status, silent,
			trigger_message, conversation_snapshot, assigned_to, assigned_at, completed_at,
			resolution, metadata, client_notified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transfer_id) DO UPDATE SET
			status = excluded.status, assigned_to = excluded.assigned_to, assigned_at = excluded.assigned_at,
			completed_at = excluded.completed_at, resolution = excluded.resolution, metadata = excluded.metadata,
			client_notified = excluded.client_notified, updated_at = excluded.updated_at`,
		rec.TransferID, rec.ChatID, rec.Reason, rec.Priority, rec.Status, rec.Silent,
		nilIfEmpty(rec.TriggerMessage), nilIfEmpty(snapshot), nilIfEmpty(rec.AssignedTo), nilIfZero(rec.AssignedAt),
		nilIfZero(rec.CompletedAt), nilIfEmpty(rec.Resolution), nilIfEmpty(metadata), rec.ClientNotified,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTransfer upsert failed", "error", err, "transferID", rec.TransferID)
		return fmt.Errorf("failed to save transfer %s: %w", rec.TransferID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transfer_events (transfer_id, from_status, to_status, actor, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TransferID, nilIfEmpty(string(ev.FromStatus)), ev.ToStatus, nilIfEmpty(ev.Actor), nilIfEmpty(ev.Note), ev.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTransfer event insert failed", "error", err, "transferID", rec.TransferID)
		return fmt.Errorf("failed to record transfer event %s: %w", rec.TransferID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer %s: %w", rec.TransferID, err)
	}
	slog.Debug("SQLiteStore SaveTransfer succeeded", "transferID", rec.TransferID, "status", rec.Status)
	return nil
}

// GetTransfer loads one transfer by id.
func (s *SQLiteStore) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	query := `SELECT ` + strings.Join(transferColumns, ", ") + ` FROM transfers WHERE transfer_id = ?`
	rec, err := scanTransfer(s.db.QueryRowContext(ctx, query, transferID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTransfer failed", "error", err, "transferID", transferID)
		return nil, fmt.Errorf("failed to get transfer %s: %w", transferID, err)
	}
	return &rec, nil
}

// QueryTransfers applies the filter with a squirrel-built WHERE clause.
func (s *SQLiteStore) QueryTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error) {
	query, args, err := transferQuery(sq.StatementBuilder.PlaceholderFormat(sq.Question), f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore QueryTransfers failed", "error", err)
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	return scanTransfers(rows)
}

// ListTransferEvents returns the audit trail for a transfer.
func (s *SQLiteStore) ListTransferEvents(ctx context.Context, transferID string) ([]TransferEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transfer_id, from_status, to_status, actor, note, created_at FROM transfer_events WHERE transfer_id = ? ORDER BY id`,
		transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer events: %w", err)
	}
	return scanEvents(rows)
}

// SaveAppointment records a confirmed appointment.
func (s *SQLiteStore) SaveAppointment(ctx context.Context, a AppointmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO appointments (appointment_id, chat_id, name, email, phone, reason,
			start_time, end_time, meeting_link, calendar_link, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AppointmentID, a.ChatID, a.Name, nilIfEmpty(a.Email), nilIfEmpty(a.Phone), a.Reason,
		a.Start, a.End, nilIfEmpty(a.MeetingLink), nilIfEmpty(a.CalendarLink), a.Source, a.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAppointment failed", "error", err, "appointmentID", a.AppointmentID)
		return fmt.Errorf("failed to save appointment %s: %w", a.AppointmentID, err)
	}
	slog.Debug("SQLiteStore SaveAppointment succeeded", "appointmentID", a.AppointmentID, "chatID", a.ChatID)
	return nil
}

// ListAppointments returns appointments for chatID, or all when chatID is empty.
func (s *SQLiteStore) ListAppointments(ctx context.Context, chatID string) ([]AppointmentRecord, error) {
	builder := sq.Select(appointmentColumns...).From("appointments").OrderBy("start_time")
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// transferQuery builds the filtered, ordered transfer SELECT for either dialect.
func transferQuery(builder sq.StatementBuilderType, f models.TransferFilter) sq.SelectBuilder {
	q := builder.Select(transferColumns...).From("transfers")
	if f.ChatID != "" {
		q = q.Where(sq.Eq{"chat_id": f.ChatID})
	}
	if f.Reason != "" {
		q = q.Where(sq.Eq{"reason": string(f.Reason)})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	q = q.OrderBy("priority DESC", "created_at ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}
