package event

import (
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of event this is; lessons get action buttons on
// their reminders, other types are plain notifications.
type Type string

const (
	TypeReminder Type = "reminder"
	TypeLesson   Type = "lesson"
	TypeBirthday Type = "birthday"
)

// PaymentStatus tracks whether a lesson occurrence has been paid for.
// Used by the evening payment-due reminder.
type PaymentStatus string

const (
	PaymentUnknown PaymentStatus = "unknown"
	PaymentPaid    PaymentStatus = "paid"
)

// Event is a user-scheduled calendar item: a one-off or recurring reminder,
// lesson or birthday. Events are soft-deleted (IsActive=false), never erased,
// so notification history stays auditable.
type Event struct {
	ID          uuid.UUID
	UserID      int64
	Type        Type
	Title       string
	Description sql.NullString
	StartsAt    time.Time
	EndsAt      sql.NullTime
	// RRule holds a single RFC 5545 recurrence rule body (e.g.
	// "FREQ=WEEKLY;BYDAY=MO"), anchored at StartsAt. Empty means one-off.
	RRule sql.NullString
	// RemindOffsets are minutes before each occurrence at which to remind,
	// descending and deduplicated. Empty means remind at the occurrence itself.
	RemindOffsets []int64
	// ExcludedOccurrences are concrete instants removed from the recurrence,
	// e.g. a single rescheduled or cancelled week of a weekly lesson.
	ExcludedOccurrences []time.Time
	PaymentStatus       PaymentStatus
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanonicalInstant normalizes an occurrence instant for exclusion-set
// membership: UTC, truncated to whole seconds. All exclusion comparisons go
// through this so sub-second or zone drift can never split two renderings of
// the same instant.
func CanonicalInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// IsExcluded reports whether the given occurrence instant is in the event's
// exclusion set.
func (e *Event) IsExcluded(occurrence time.Time) bool {
	c := CanonicalInstant(occurrence)
	for _, excluded := range e.ExcludedOccurrences {
		if CanonicalInstant(excluded).Equal(c) {
			return true
		}
	}
	return false
}

// ExcludeOccurrence adds an instant to the exclusion set, skipping duplicates.
func (e *Event) ExcludeOccurrence(occurrence time.Time) {
	if e.IsExcluded(occurrence) {
		return
	}
	e.ExcludedOccurrences = append(e.ExcludedOccurrences, CanonicalInstant(occurrence))
}

// NormalizeOffsets sorts RemindOffsets descending and drops duplicates and
// negative values.
func (e *Event) NormalizeOffsets() {
	seen := make(map[int64]bool, len(e.RemindOffsets))
	normalized := make([]int64, 0, len(e.RemindOffsets))
	for _, offset := range e.RemindOffsets {
		if offset < 0 || seen[offset] {
			continue
		}
		seen[offset] = true
		normalized = append(normalized, offset)
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] > normalized[j] })
	e.RemindOffsets = normalized
}
