package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Custom errors
var ErrEventNotFound = fmt.Errorf("event not found")

const eventColumns = `id, user_id, event_type, title, description, starts_at, ends_at,
               rrule, remind_offsets, excluded_occurrences, payment_status, is_active,
               created_at, updated_at`

type PostgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) Create(ctx context.Context, e *event.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	exclusions, err := marshalExclusions(e.ExcludedOccurrences)
	if err != nil {
		return err
	}

	query := `INSERT INTO events (id, user_id, event_type, title, description, starts_at, ends_at,
                                  rrule, remind_offsets, excluded_occurrences, payment_status, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
               RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		e.ID, e.UserID, e.Type, e.Title, e.Description, e.StartsAt.UTC(), e.EndsAt,
		e.RRule, pq.Array(e.RemindOffsets), exclusions, e.PaymentStatus, e.IsActive,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("error getting event by ID: %w", err)
	}
	return e, nil
}

func (r *PostgresEventRepository) Update(ctx context.Context, e *event.Event) error {
	exclusions, err := marshalExclusions(e.ExcludedOccurrences)
	if err != nil {
		return err
	}

	query := `UPDATE events
               SET event_type = $1, title = $2, description = $3, starts_at = $4, ends_at = $5,
                   rrule = $6, remind_offsets = $7, excluded_occurrences = $8,
                   payment_status = $9, is_active = $10, updated_at = NOW()
               WHERE id = $11
               RETURNING updated_at`
	err = r.db.QueryRowContext(ctx, query,
		e.Type, e.Title, e.Description, e.StartsAt.UTC(), e.EndsAt,
		e.RRule, pq.Array(e.RemindOffsets), exclusions, e.PaymentStatus, e.IsActive, e.ID,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrEventNotFound
		}
		return fmt.Errorf("error updating event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
               WHERE user_id = $1 AND is_active = TRUE ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing active events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	e := &event.Event{}
	var exclusions []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.Type, &e.Title, &e.Description, &e.StartsAt, &e.EndsAt,
		&e.RRule, pq.Array(&e.RemindOffsets), &exclusions, &e.PaymentStatus, &e.IsActive,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ExcludedOccurrences, err = unmarshalExclusions(exclusions); err != nil {
		return nil, err
	}
	return e, nil
}

// The exclusion set is persisted as a JSONB array of canonical RFC3339 strings
// (UTC, whole seconds). Canonicalization happens here, once, so equality
// anywhere else in the system is plain instant comparison.
func marshalExclusions(exclusions []time.Time) ([]byte, error) {
	canonical := make([]string, 0, len(exclusions))
	for _, t := range exclusions {
		canonical = append(canonical, event.CanonicalInstant(t).Format(time.RFC3339))
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("error encoding excluded occurrences: %w", err)
	}
	return data, nil
}

func unmarshalExclusions(data []byte) ([]time.Time, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var canonical []string
	if err := json.Unmarshal(data, &canonical); err != nil {
		return nil, fmt.Errorf("error decoding excluded occurrences: %w", err)
	}
	exclusions := make([]time.Time, 0, len(canonical))
	for _, raw := range canonical {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("error decoding excluded occurrence %q: %w", raw, err)
		}
		exclusions = append(exclusions, t.UTC())
	}
	return exclusions, nil
}
