package notification

import (
	"time"

	"github.com/google/uuid"
)

// Log is the append-only idempotency ledger: one row per (event, occurrence,
// offset) that was ever turned into an outbound message. The unique constraint
// on that triple is the single source of truth for "has this reminder already
// fired" — concurrent dispatcher ticks race on the insert and exactly one wins.
type Log struct {
	ID            uuid.UUID
	UserID        int64
	EventID       uuid.UUID
	OccurrenceAt  time.Time
	OffsetMinutes int
	SentAt        time.Time
}
