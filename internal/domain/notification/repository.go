package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DueRepository defines operations on the due index.
type DueRepository interface {
	// Upsert inserts the entry or, if a row with the same
	// (event, occurrence, offset) key exists, resets it to pending with the
	// new trigger time.
	Upsert(ctx context.Context, entry *DueEntry) error
	GetByUnique(ctx context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (*DueEntry, error)
	// ListDue returns pending entries with trigger_at <= until, ordered by
	// trigger_at, at most limit rows.
	ListDue(ctx context.Context, until time.Time, limit int) ([]*DueEntry, error)
	MarkProcessing(ctx context.Context, entry *DueEntry) error
	MarkDone(ctx context.Context, entry *DueEntry) error
	// MarkPending re-arms the same row for the next occurrence.
	MarkPending(ctx context.Context, entry *DueEntry, triggerAt, occurrenceAt time.Time) error
	DeleteForEvent(ctx context.Context, eventID uuid.UUID) (int, error)
	// ReclaimStuckProcessing resets processing rows untouched for longer than
	// olderThan back to pending. The lease has no owner token, so a slow (not
	// crashed) worker can be double-processed; downstream idempotency absorbs
	// that.
	ReclaimStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error)
}

// LogRepository defines operations on the notification idempotency ledger.
type LogRepository interface {
	// Insert records that the (event, occurrence, offset) reminder fired.
	// Returns false when a row already existed — the caller lost the race and
	// must not create a message, but should still advance the due index.
	Insert(ctx context.Context, log *Log) (bool, error)
	WasSent(ctx context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (bool, error)
}

// OutboxRepository defines operations on the outbound message queue.
type OutboxRepository interface {
	// Enqueue inserts the message. Returns false when msg.DedupeKey is set and
	// a message with that key already exists; the duplicate is silently dropped.
	Enqueue(ctx context.Context, msg *OutboxMessage) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*OutboxMessage, error)
	ListReady(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error)
	MarkSent(ctx context.Context, msg *OutboxMessage) error
	MarkFailed(ctx context.Context, msg *OutboxMessage, reason string) error
	MarkDeadLetter(ctx context.Context, msg *OutboxMessage, reason string) error
	// IncrementAttempts bumps the counter in storage and on msg itself.
	IncrementAttempts(ctx context.Context, msg *OutboxMessage) error
	// Postpone moves available_at forward without touching attempts; used for
	// quiet/work-hour gating.
	Postpone(ctx context.Context, msg *OutboxMessage, until time.Time) error
	// ScheduleRetry postpones after a failed send and records the error; the
	// message stays pending.
	ScheduleRetry(ctx context.Context, msg *OutboxMessage, until time.Time, reason string) error
	// Requeue is the manual recovery path: resets a failed or dead-lettered
	// message to pending with a fresh attempt budget.
	Requeue(ctx context.Context, msg *OutboxMessage, availableAt time.Time) error
	CountPendingByUser(ctx context.Context, userID int64) (int, error)
}
