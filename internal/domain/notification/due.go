package notification

import (
	"time"

	"github.com/google/uuid"
)

// DueEntry is one scheduled "fire" record: when the reminder for a given
// (event, offset) pair should next go out. A recurring event keeps reusing
// the same row — after each firing the dispatcher advances OccurrenceAt and
// TriggerAt to the next occurrence instead of inserting a new row.
// Unique key: (EventID, OccurrenceAt, OffsetMinutes).
type DueEntry struct {
	ID            uuid.UUID
	UserID        int64
	EventID       uuid.UUID
	OccurrenceAt  time.Time
	OffsetMinutes int
	TriggerAt     time.Time // OccurrenceAt minus OffsetMinutes
	Status        DueStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
