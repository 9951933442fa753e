package app

import (
	"context"
	"testing"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
)

func TestSyncEventCreatesEntryPerOffset(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())
	ctx := context.Background()

	ev := weeklyMondayEvent()
	ev.RemindOffsets = []int64{30, 0}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := svc.SyncEvent(ctx, ev, now); err != nil {
		t.Fatalf("SyncEvent: %v", err)
	}

	entries := due.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(entries))
	}
	occurrence := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	for _, entry := range entries {
		if !entry.OccurrenceAt.Equal(occurrence) {
			t.Errorf("occurrence = %v, want %v", entry.OccurrenceAt, occurrence)
		}
		wantTrigger := occurrence.Add(-time.Duration(entry.OffsetMinutes) * time.Minute)
		if !entry.TriggerAt.Equal(wantTrigger) {
			t.Errorf("trigger for offset %d = %v, want %v", entry.OffsetMinutes, entry.TriggerAt, wantTrigger)
		}
		if entry.Status != notification.DueStatusPending {
			t.Errorf("status = %s, want pending", entry.Status)
		}
	}
}

func TestSyncEventIdempotent(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())
	ctx := context.Background()

	ev := weeklyMondayEvent()
	ev.RemindOffsets = []int64{60, 0}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := svc.SyncEvent(ctx, ev, now); err != nil {
		t.Fatalf("first SyncEvent: %v", err)
	}
	first := due.all()
	if err := svc.SyncEvent(ctx, ev, now); err != nil {
		t.Fatalf("second SyncEvent: %v", err)
	}
	second := due.all()

	if len(first) != len(second) {
		t.Fatalf("entry count changed across resync: %d then %d", len(first), len(second))
	}
	for i := range second {
		a, b := first[i], second[i]
		if !a.OccurrenceAt.Equal(b.OccurrenceAt) || !a.TriggerAt.Equal(b.TriggerAt) ||
			a.OffsetMinutes != b.OffsetMinutes || a.Status != b.Status {
			t.Errorf("resync changed entry %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestSyncEventStopsScheduling(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ev *event.Event)
	}{
		{"inactive event", func(ev *event.Event) { ev.IsActive = false }},
		{"no future occurrence", func(ev *event.Event) {
			ev.RRule.Valid = false
			ev.StartsAt = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due := newFakeDueRepo()
			svc := NewDueIndexService(due, NewRRuleCalculator())
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			ev := weeklyMondayEvent()
			if err := svc.SyncEvent(ctx, ev, now); err != nil {
				t.Fatalf("initial SyncEvent: %v", err)
			}
			if len(due.all()) == 0 {
				t.Fatal("initial sync produced no entries")
			}

			tt.setup(ev)
			if err := svc.SyncEvent(ctx, ev, now); err != nil {
				t.Fatalf("SyncEvent after change: %v", err)
			}
			if got := len(due.all()); got != 0 {
				t.Errorf("expected all entries removed, %d remain", got)
			}
		})
	}
}

func TestSyncEventDefaultsToZeroOffset(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())

	ev := weeklyMondayEvent()
	ev.RemindOffsets = nil
	if err := svc.SyncEvent(context.Background(), ev, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SyncEvent: %v", err)
	}

	entries := due.all()
	if len(entries) != 1 || entries[0].OffsetMinutes != 0 {
		t.Fatalf("expected a single zero-offset entry, got %+v", entries)
	}
	if !entries[0].TriggerAt.Equal(entries[0].OccurrenceAt) {
		t.Errorf("zero-offset trigger %v != occurrence %v", entries[0].TriggerAt, entries[0].OccurrenceAt)
	}
}

func TestAdvanceAfterDispatchReusesRow(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())
	ctx := context.Background()

	ev := weeklyMondayEvent()
	ev.RemindOffsets = []int64{0}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.SyncEvent(ctx, ev, now); err != nil {
		t.Fatalf("SyncEvent: %v", err)
	}
	fired := due.all()[0]
	originalID := fired.ID
	firedOccurrence := fired.OccurrenceAt

	if err := svc.AdvanceAfterDispatch(ctx, ev, 0, firedOccurrence); err != nil {
		t.Fatalf("AdvanceAfterDispatch: %v", err)
	}

	entries := due.all()
	if len(entries) != 1 {
		t.Fatalf("advance must reuse the row, got %d rows", len(entries))
	}
	entry := entries[0]
	if entry.ID != originalID {
		t.Errorf("row id changed on advance: %s -> %s", originalID, entry.ID)
	}
	want := firedOccurrence.AddDate(0, 0, 7)
	if !entry.OccurrenceAt.Equal(want) {
		t.Errorf("advanced occurrence = %v, want %v", entry.OccurrenceAt, want)
	}
	if entry.Status != notification.DueStatusPending {
		t.Errorf("advanced status = %s, want pending", entry.Status)
	}
}

func TestAdvanceAfterDispatchTerminal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ev *event.Event)
	}{
		{"event deactivated mid-flight", func(ev *event.Event) { ev.IsActive = false }},
		{"one-off exhausted", func(ev *event.Event) { ev.RRule.Valid = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due := newFakeDueRepo()
			svc := NewDueIndexService(due, NewRRuleCalculator())
			ctx := context.Background()

			ev := weeklyMondayEvent()
			ev.RemindOffsets = []int64{0}
			if err := svc.SyncEvent(ctx, ev, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
				t.Fatalf("SyncEvent: %v", err)
			}
			fired := due.all()[0]

			tt.setup(ev)
			if err := svc.AdvanceAfterDispatch(ctx, ev, 0, fired.OccurrenceAt); err != nil {
				t.Fatalf("AdvanceAfterDispatch: %v", err)
			}
			if fired.Status != notification.DueStatusDone {
				t.Errorf("status = %s, want done", fired.Status)
			}
		})
	}
}

func TestAdvanceAfterDispatchMissingRow(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())

	ev := weeklyMondayEvent()
	err := svc.AdvanceAfterDispatch(context.Background(), ev, 0, ev.StartsAt)
	if err != nil {
		t.Fatalf("missing row must be a no-op, got %v", err)
	}
}

func TestReclaimStuckProcessing(t *testing.T) {
	due := newFakeDueRepo()
	svc := NewDueIndexService(due, NewRRuleCalculator())
	ctx := context.Background()

	ev := weeklyMondayEvent()
	ev.RemindOffsets = []int64{0}
	if err := svc.SyncEvent(ctx, ev, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SyncEvent: %v", err)
	}
	entry := due.all()[0]
	entry.Status = notification.DueStatusProcessing
	entry.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	reclaimed, err := svc.ReclaimStuckProcessing(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStuckProcessing: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	if entry.Status != notification.DueStatusPending {
		t.Errorf("status = %s, want pending", entry.Status)
	}

	// A fresh processing row stays leased.
	entry.Status = notification.DueStatusProcessing
	entry.UpdatedAt = time.Now().UTC()
	reclaimed, err = svc.ReclaimStuckProcessing(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStuckProcessing: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("fresh lease reclaimed, want 0 got %d", reclaimed)
	}
}
