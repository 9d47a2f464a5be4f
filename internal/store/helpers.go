package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// transferColumns is the column order shared by every transfer SELECT.
var transferColumns = []string{
	"transfer_id", "chat_id", "reason", "priority", "status", "silent",
	"trigger_message", "conversation_snapshot", "assigned_to", "assigned_at",
	"completed_at", "resolution", "metadata", "client_notified", "created_at", "updated_at",
}

var appointmentColumns = []string{
	"appointment_id", "chat_id", "name", "email", "phone", "reason", "start_time",
	"end_time", "meeting_link", "calendar_link", "source", "created_at",
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil for a nil time pointer.
func nilIfZero(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// transferJSON encodes the snapshot and metadata columns.
func transferJSON(rec *models.TransferRecord) (snapshot, metadata string, err error) {
	if len(rec.ConversationSnapshot) > 0 {
		b, err := json.Marshal(rec.ConversationSnapshot)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode conversation snapshot: %w", err)
		}
		snapshot = string(b)
	}
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(b)
	}
	return snapshot, metadata, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTransfer scans a TransferRecord in transferColumns order.
func scanTransfer(row rowScanner) (models.TransferRecord, error) {
	var rec models.TransferRecord
	var trigger, snapshot, assignedTo, resolution, metadata sql.NullString
	var assignedAt, completedAt sql.NullTime
	err := row.Scan(
		&rec.TransferID, &rec.ChatID, &rec.Reason, &rec.Priority, &rec.Status, &rec.Silent,
		&trigger, &snapshot, &assignedTo, &assignedAt,
		&completedAt, &resolution, &metadata, &rec.ClientNotified, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.TriggerMessage = trigger.String
	rec.AssignedTo = assignedTo.String
	rec.Resolution = resolution.String
	if assignedAt.Valid {
		rec.AssignedAt = &assignedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if snapshot.String != "" {
		if err := json.Unmarshal([]byte(snapshot.String), &rec.ConversationSnapshot); err != nil {
			// Continue without the snapshot rather than failing the whole query
			slog.Warn("store: conversation snapshot unmarshal failed", "error", err, "transferID", rec.TransferID)
		}
	}
	if metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			slog.Warn("store: metadata unmarshal failed", "error", err, "transferID", rec.TransferID)
		}
	}
	return rec, nil
}

// scanTransfers drains rows into records.
func scanTransfers(rows *sql.Rows) ([]models.TransferRecord, error) {
	defer rows.Close()
	var out []models.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer failed: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer rows: %w", err)
	}
	return out, nil
}

// scanAppointments drains rows in appointmentColumns order.
func scanAppointments(rows *sql.Rows) ([]AppointmentRecord, error) {
	defer rows.Close()
	var out []AppointmentRecord
	for rows.Next() {
		var a AppointmentRecord
		var email, phone, meeting, calLink sql.NullString
		if err := rows.Scan(&a.AppointmentID, &a.ChatID, &a.Name, &email, &phone, &a.Reason,
			&a.Start, &a.End, &meeting, &calLink, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment failed: %w", err)
		}
		a.Email, a.Phone, a.MeetingLink, a.CalendarLink = email.String, phone.String, meeting.String, calLink.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointment rows: %w", err)
	}
	return out, nil
}

// scanEvents drains transfer_events rows.
func scanEvents(rows *sql.Rows) ([]TransferEvent, error) {
	defer rows.Close()
	var out []TransferEvent
	for rows.Next() {
		var ev TransferEvent
		var from, actor, note sql.NullString
		if err := rows.Scan(&ev.TransferID, &from, &ev.ToStatus, &actor, &note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer event failed: %w", err)
		}
		ev.FromStatus = models.TransferStatus(from.String)
		ev.Actor, ev.Note = actor.String, note.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer event rows: %w", err)
	}
	return out, nil
}
