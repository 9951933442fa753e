package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"

	"github.com/google/uuid"
)

type PostgresNotificationLogRepository struct {
	db *sql.DB
}

func NewPostgresNotificationLogRepository(db *sql.DB) *PostgresNotificationLogRepository {
	return &PostgresNotificationLogRepository{db: db}
}

// Insert appends to the idempotency ledger. The conflict on the unique
// (event_id, occurrence_at, offset_minutes) key is an expected outcome — it
// means another tick already fired this reminder — so it is reported as
// (false, nil), never as an error.
func (r *PostgresNotificationLogRepository) Insert(ctx context.Context, log *notification.Log) (bool, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	query := `INSERT INTO notification_logs (id, user_id, event_id, occurrence_at, offset_minutes)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (event_id, occurrence_at, offset_minutes) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query,
		log.ID, log.UserID, log.EventID, log.OccurrenceAt.UTC(), log.OffsetMinutes,
	)
	if err != nil {
		return false, fmt.Errorf("error inserting notification log: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading notification log insert result: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresNotificationLogRepository) WasSent(ctx context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (bool, error) {
	query := `SELECT EXISTS (
                 SELECT 1 FROM notification_logs
                 WHERE event_id = $1 AND occurrence_at = $2 AND offset_minutes = $3
               )`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, eventID, occurrenceAt.UTC(), offsetMinutes).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking notification log: %w", err)
	}
	return exists, nil
}
