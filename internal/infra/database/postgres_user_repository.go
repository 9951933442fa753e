package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sayasufi/timekeeper-tg/internal/domain/user"

	"github.com/lib/pq"
)

// Custom errors
var ErrUserNotFound = fmt.Errorf("user not found")
var ErrDuplicateTelegramID = fmt.Errorf("user with this Telegram ID already exists")

const userColumns = `id, telegram_id, language, timezone,
               quiet_hours_start, quiet_hours_end, work_hours_start, work_hours_end,
               work_days, created_at, updated_at`

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	query := `INSERT INTO users (telegram_id, language, timezone,
                                 quiet_hours_start, quiet_hours_end,
                                 work_hours_start, work_hours_end, work_days)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               ON CONFLICT (telegram_id) DO NOTHING
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		u.TelegramID, u.Language, u.Timezone,
		u.QuietHoursStart, u.QuietHoursEnd, u.WorkHoursStart, u.WorkHoursEnd,
		pq.Array(u.WorkDays),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			// The conditional insert hit the unique telegram_id.
			return ErrDuplicateTelegramID
		}
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, telegramID))
}

func (r *PostgresUserRepository) Update(ctx context.Context, u *user.User) error {
	query := `UPDATE users
               SET language = $1, timezone = $2,
                   quiet_hours_start = $3, quiet_hours_end = $4,
                   work_hours_start = $5, work_hours_end = $6,
                   work_days = $7, updated_at = NOW()
               WHERE id = $8
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		u.Language, u.Timezone,
		u.QuietHoursStart, u.QuietHoursEnd, u.WorkHoursStart, u.WorkHoursEnd,
		pq.Array(u.WorkDays), u.ID,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrUserNotFound
		}
		return fmt.Errorf("error updating user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) ListAll(ctx context.Context) ([]*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	defer rows.Close()

	users := make([]*user.User, 0)
	for rows.Next() {
		u := &user.User{}
		if err := rows.Scan(
			&u.ID, &u.TelegramID, &u.Language, &u.Timezone,
			&u.QuietHoursStart, &u.QuietHoursEnd, &u.WorkHoursStart, &u.WorkHoursEnd,
			pq.Array(&u.WorkDays), &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) scanOne(row *sql.Row) (*user.User, error) {
	u := &user.User{}
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Language, &u.Timezone,
		&u.QuietHoursStart, &u.QuietHoursEnd, &u.WorkHoursStart, &u.WorkHoursEnd,
		pq.Array(&u.WorkDays), &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return u, nil
}
