package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"

	"github.com/google/uuid"
)

// Custom errors
var ErrOutboxMessageNotFound = fmt.Errorf("outbox message not found")

const outboxColumns = `id, user_id, channel, payload, status, attempts, available_at,
               dedupe_key, last_error, created_at, updated_at`

type PostgresOutboxRepository struct {
	db *sql.DB
}

func NewPostgresOutboxRepository(db *sql.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// Enqueue inserts the message. A dedupe-key conflict is an expected outcome
// (the same logical action was already enqueued) and is reported as
// (false, nil).
func (r *PostgresOutboxRepository) Enqueue(ctx context.Context, msg *notification.OutboxMessage) (bool, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return false, fmt.Errorf("error encoding outbox payload: %w", err)
	}

	query := `INSERT INTO outbox_messages (id, user_id, channel, payload, status, attempts, available_at, dedupe_key)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               ON CONFLICT (dedupe_key) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.UserID, msg.Channel, payload, msg.Status, msg.Attempts,
		msg.AvailableAt.UTC(), msg.DedupeKey,
	)
	if err != nil {
		return false, fmt.Errorf("error enqueueing outbox message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading outbox insert result: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresOutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*notification.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id = $1`
	msg, err := scanOutboxMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOutboxMessageNotFound
		}
		return nil, fmt.Errorf("error getting outbox message by ID: %w", err)
	}
	return msg, nil
}

func (r *PostgresOutboxRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*notification.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages
               WHERE status = $1 AND available_at <= $2
               ORDER BY available_at
               LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, notification.OutboxStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing ready outbox messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*notification.OutboxMessage, 0)
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning outbox row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}
	return messages, nil
}

func (r *PostgresOutboxRepository) MarkSent(ctx context.Context, msg *notification.OutboxMessage) error {
	query := `UPDATE outbox_messages
               SET status = $1, last_error = NULL, updated_at = NOW()
               WHERE id = $2
               RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, notification.OutboxStatusSent, msg.ID).Scan(&msg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error marking outbox message sent: %w", err)
	}
	msg.Status = notification.OutboxStatusSent
	msg.LastError = sql.NullString{}
	return nil
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, msg *notification.OutboxMessage, reason string) error {
	return r.setTerminal(ctx, msg, notification.OutboxStatusFailed, reason)
}

func (r *PostgresOutboxRepository) MarkDeadLetter(ctx context.Context, msg *notification.OutboxMessage, reason string) error {
	return r.setTerminal(ctx, msg, notification.OutboxStatusDeadLetter, reason)
}

func (r *PostgresOutboxRepository) IncrementAttempts(ctx context.Context, msg *notification.OutboxMessage) error {
	query := `UPDATE outbox_messages
               SET attempts = attempts + 1, updated_at = NOW()
               WHERE id = $1
               RETURNING attempts`
	if err := r.db.QueryRowContext(ctx, query, msg.ID).Scan(&msg.Attempts); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error incrementing outbox attempts: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) Postpone(ctx context.Context, msg *notification.OutboxMessage, until time.Time) error {
	query := `UPDATE outbox_messages
               SET available_at = $1, status = $2, updated_at = NOW()
               WHERE id = $3
               RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, until.UTC(), notification.OutboxStatusPending, msg.ID).Scan(&msg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error postponing outbox message: %w", err)
	}
	msg.AvailableAt = until.UTC()
	msg.Status = notification.OutboxStatusPending
	return nil
}

func (r *PostgresOutboxRepository) ScheduleRetry(ctx context.Context, msg *notification.OutboxMessage, until time.Time, reason string) error {
	query := `UPDATE outbox_messages
               SET available_at = $1, status = $2, last_error = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, until.UTC(), notification.OutboxStatusPending, reason, msg.ID).Scan(&msg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error scheduling outbox retry: %w", err)
	}
	msg.AvailableAt = until.UTC()
	msg.Status = notification.OutboxStatusPending
	msg.LastError = sql.NullString{String: reason, Valid: true}
	return nil
}

func (r *PostgresOutboxRepository) Requeue(ctx context.Context, msg *notification.OutboxMessage, availableAt time.Time) error {
	query := `UPDATE outbox_messages
               SET status = $1, attempts = 0, available_at = $2, last_error = NULL, updated_at = NOW()
               WHERE id = $3
               RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, notification.OutboxStatusPending, availableAt.UTC(), msg.ID).Scan(&msg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error requeueing outbox message: %w", err)
	}
	msg.Status = notification.OutboxStatusPending
	msg.Attempts = 0
	msg.AvailableAt = availableAt.UTC()
	msg.LastError = sql.NullString{}
	return nil
}

func (r *PostgresOutboxRepository) CountPendingByUser(ctx context.Context, userID int64) (int, error) {
	query := `SELECT COUNT(*) FROM outbox_messages WHERE user_id = $1 AND status = $2`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, notification.OutboxStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting pending outbox messages: %w", err)
	}
	return count, nil
}

func (r *PostgresOutboxRepository) setTerminal(ctx context.Context, msg *notification.OutboxMessage, status notification.OutboxStatus, reason string) error {
	query := `UPDATE outbox_messages
               SET status = $1, last_error = $2, updated_at = NOW()
               WHERE id = $3
               RETURNING updated_at`
	if err := r.db.QueryRowContext(ctx, query, status, reason, msg.ID).Scan(&msg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrOutboxMessageNotFound
		}
		return fmt.Errorf("error marking outbox message %s: %w", status, err)
	}
	msg.Status = status
	msg.LastError = sql.NullString{String: reason, Valid: true}
	return nil
}

func scanOutboxMessage(row rowScanner) (*notification.OutboxMessage, error) {
	msg := &notification.OutboxMessage{}
	var payload []byte
	err := row.Scan(
		&msg.ID, &msg.UserID, &msg.Channel, &payload, &msg.Status, &msg.Attempts,
		&msg.AvailableAt, &msg.DedupeKey, &msg.LastError, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &msg.Payload); err != nil {
		return nil, fmt.Errorf("error decoding outbox payload: %w", err)
	}
	return msg, nil
}
