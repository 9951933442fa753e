package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
)

// DueIndexService maintains the due index: one row per (event, reminder-offset)
// describing when that reminder should next fire.
type DueIndexService struct {
	due  notification.DueRepository
	calc Calculator
}

func NewDueIndexService(due notification.DueRepository, calc Calculator) *DueIndexService {
	return &DueIndexService{due: due, calc: calc}
}

// SyncEvent rebuilds the due entries for an event after any create or edit.
// This is a full resync, not an incremental patch: existing rows (including
// in-flight ones) are dropped and recreated, so an event edit always wins over
// whatever the dispatcher was doing with the old schedule.
func (s *DueIndexService) SyncEvent(ctx context.Context, ev *event.Event, now time.Time) error {
	if _, err := s.due.DeleteForEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("failed to delete due entries for event %s: %w", ev.ID, err)
	}

	if !ev.IsActive {
		return nil
	}

	next, ok := s.calc.NextOccurrence(ev, now)
	if !ok {
		return nil
	}

	offsets := ev.RemindOffsets
	if len(offsets) == 0 {
		offsets = []int64{0}
	}
	for _, offset := range offsets {
		entry := &notification.DueEntry{
			UserID:        ev.UserID,
			EventID:       ev.ID,
			OccurrenceAt:  next,
			OffsetMinutes: int(offset),
			TriggerAt:     next.Add(-time.Duration(offset) * time.Minute),
			Status:        notification.DueStatusPending,
		}
		if err := s.due.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("failed to upsert due entry for event %s offset %d: %w", ev.ID, offset, err)
		}
	}
	return nil
}

// AdvanceAfterDispatch moves a fired due entry to the event's next occurrence,
// reusing the same row for the whole lifetime of a recurring reminder (no
// unbounded row growth). The row is marked done when the event is inactive or
// has no further occurrences. A missing row is a no-op: another tick already
// advanced it, or a sync deleted it.
func (s *DueIndexService) AdvanceAfterDispatch(ctx context.Context, ev *event.Event, offsetMinutes int, firedOccurrence time.Time) error {
	entry, err := s.due.GetByUnique(ctx, ev.ID, firedOccurrence, offsetMinutes)
	if err != nil {
		if errors.Is(err, idb.ErrDueEntryNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up due entry for event %s: %w", ev.ID, err)
	}

	if !ev.IsActive {
		return s.due.MarkDone(ctx, entry)
	}

	next, ok := s.calc.NextOccurrence(ev, firedOccurrence.Add(time.Second))
	if !ok {
		return s.due.MarkDone(ctx, entry)
	}

	nextTrigger := next.Add(-time.Duration(offsetMinutes) * time.Minute)
	return s.due.MarkPending(ctx, entry, nextTrigger, next)
}

// ReclaimStuckProcessing resets processing rows that have been untouched for
// longer than olderThan back to pending. Run on its own tick as the safety net
// for workers that died mid-dispatch.
func (s *DueIndexService) ReclaimStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.due.ReclaimStuckProcessing(ctx, olderThan)
}
