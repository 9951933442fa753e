package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"

	"github.com/google/uuid"
)

// Custom errors
var ErrDueEntryNotFound = fmt.Errorf("due entry not found")

const dueColumns = `id, user_id, event_id, occurrence_at, offset_minutes, trigger_at,
               status, created_at, updated_at`

type PostgresDueRepository struct {
	db *sql.DB
}

func NewPostgresDueRepository(db *sql.DB) *PostgresDueRepository {
	return &PostgresDueRepository{db: db}
}

// Upsert inserts the entry or resets the existing row with the same
// (event_id, occurrence_at, offset_minutes) key back to pending with the new
// trigger time. The conflict path is a normal outcome, not an error.
func (r *PostgresDueRepository) Upsert(ctx context.Context, entry *notification.DueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := `INSERT INTO due_notifications (id, user_id, event_id, occurrence_at, offset_minutes, trigger_at, status)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               ON CONFLICT (event_id, occurrence_at, offset_minutes)
               DO UPDATE SET trigger_at = EXCLUDED.trigger_at, status = EXCLUDED.status, updated_at = NOW()
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		entry.ID, entry.UserID, entry.EventID,
		entry.OccurrenceAt.UTC(), entry.OffsetMinutes, entry.TriggerAt.UTC(), entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting due entry: %w", err)
	}
	return nil
}

func (r *PostgresDueRepository) GetByUnique(ctx context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (*notification.DueEntry, error) {
	query := `SELECT ` + dueColumns + ` FROM due_notifications
               WHERE event_id = $1 AND occurrence_at = $2 AND offset_minutes = $3`
	entry := &notification.DueEntry{}
	err := r.db.QueryRowContext(ctx, query, eventID, occurrenceAt.UTC(), offsetMinutes).Scan(
		&entry.ID, &entry.UserID, &entry.EventID, &entry.OccurrenceAt, &entry.OffsetMinutes,
		&entry.TriggerAt, &entry.Status, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDueEntryNotFound
		}
		return nil, fmt.Errorf("error getting due entry by unique key: %w", err)
	}
	return entry, nil
}

func (r *PostgresDueRepository) ListDue(ctx context.Context, until time.Time, limit int) ([]*notification.DueEntry, error) {
	query := `SELECT ` + dueColumns + ` FROM due_notifications
               WHERE status = $1 AND trigger_at <= $2
               ORDER BY trigger_at
               LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, notification.DueStatusPending, until.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing due entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*notification.DueEntry, 0)
	for rows.Next() {
		entry := &notification.DueEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.EventID, &entry.OccurrenceAt, &entry.OffsetMinutes,
			&entry.TriggerAt, &entry.Status, &entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning due entry row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due entry rows: %w", err)
	}
	return entries, nil
}

func (r *PostgresDueRepository) MarkProcessing(ctx context.Context, entry *notification.DueEntry) error {
	return r.setStatus(ctx, entry, notification.DueStatusProcessing)
}

func (r *PostgresDueRepository) MarkDone(ctx context.Context, entry *notification.DueEntry) error {
	return r.setStatus(ctx, entry, notification.DueStatusDone)
}

func (r *PostgresDueRepository) MarkPending(ctx context.Context, entry *notification.DueEntry, triggerAt, occurrenceAt time.Time) error {
	query := `UPDATE due_notifications
               SET status = $1, trigger_at = $2, occurrence_at = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		notification.DueStatusPending, triggerAt.UTC(), occurrenceAt.UTC(), entry.ID,
	).Scan(&entry.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDueEntryNotFound
		}
		return fmt.Errorf("error re-arming due entry: %w", err)
	}
	entry.Status = notification.DueStatusPending
	entry.TriggerAt = triggerAt.UTC()
	entry.OccurrenceAt = occurrenceAt.UTC()
	return nil
}

func (r *PostgresDueRepository) DeleteForEvent(ctx context.Context, eventID uuid.UUID) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM due_notifications WHERE event_id = $1`, eventID)
	if err != nil {
		return 0, fmt.Errorf("error deleting due entries for event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading delete result: %w", err)
	}
	return int(affected), nil
}

// ReclaimStuckProcessing resets processing rows untouched for longer than
// olderThan back to pending. The lease has no owner token, so this may hand a
// row that a merely slow worker still holds to another tick; the notification
// ledger and the outbox dedupe key absorb the resulting double work.
func (r *PostgresDueRepository) ReclaimStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	threshold := time.Now().UTC().Add(-olderThan)
	query := `UPDATE due_notifications
               SET status = $1, updated_at = NOW()
               WHERE status = $2 AND updated_at < $3`
	result, err := r.db.ExecContext(ctx, query, notification.DueStatusPending, notification.DueStatusProcessing, threshold)
	if err != nil {
		return 0, fmt.Errorf("error reclaiming stuck due entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading reclaim result: %w", err)
	}
	return int(affected), nil
}

func (r *PostgresDueRepository) setStatus(ctx context.Context, entry *notification.DueEntry, status notification.DueStatus) error {
	query := `UPDATE due_notifications SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, status, entry.ID).Scan(&entry.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDueEntryNotFound
		}
		return fmt.Errorf("error setting due entry status: %w", err)
	}
	entry.Status = status
	return nil
}
