package user

import (
	"database/sql"
	"time"
)

// User is a notification recipient (the bot's account owner).
// Quiet/work hours are stored as "HH:MM" local-time strings; WorkDays holds
// ISO weekdays (Monday=1 .. Sunday=7). An empty WorkDays set means every day
// is allowed.
type User struct {
	ID              int64
	TelegramID      int64
	Language        string
	Timezone        string // IANA name, e.g. "Europe/Moscow"
	QuietHoursStart sql.NullString
	QuietHoursEnd   sql.NullString
	WorkHoursStart  sql.NullString
	WorkHoursEnd    sql.NullString
	WorkDays        []int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location resolves the user's timezone, falling back to UTC when the stored
// name is empty or unknown.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
