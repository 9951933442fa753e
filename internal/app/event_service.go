package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/domain/user"

	"github.com/google/uuid"
)

// LessonOccurrence is one concrete lesson instant with its source event,
// produced by expanding the user's lesson events over a local day.
type LessonOccurrence struct {
	At    time.Time
	Event *event.Event
}

// EventService owns event lifecycle operations that affect the notification
// pipeline. Every mutation resyncs the due index so the index always reflects
// the latest event state.
type EventService struct {
	events   event.Repository
	dueIndex *DueIndexService
	calc     Calculator
}

func NewEventService(events event.Repository, dueIndex *DueIndexService, calc Calculator) *EventService {
	return &EventService{events: events, dueIndex: dueIndex, calc: calc}
}

func (s *EventService) CreateEvent(ctx context.Context, ev *event.Event, now time.Time) error {
	ev.NormalizeOffsets()
	if ev.PaymentStatus == "" {
		ev.PaymentStatus = event.PaymentUnknown
	}
	if err := s.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	if err := s.dueIndex.SyncEvent(ctx, ev, now); err != nil {
		return fmt.Errorf("failed to sync due index for new event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *EventService) UpdateEvent(ctx context.Context, ev *event.Event, now time.Time) error {
	ev.NormalizeOffsets()
	if err := s.events.Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to update event %s: %w", ev.ID, err)
	}
	if err := s.dueIndex.SyncEvent(ctx, ev, now); err != nil {
		return fmt.Errorf("failed to sync due index for event %s: %w", ev.ID, err)
	}
	return nil
}

// DeactivateEvent soft-deletes an event. The next due-index sync removes its
// rows, which is the only way to stop a scheduled reminder from firing.
func (s *EventService) DeactivateEvent(ctx context.Context, id uuid.UUID, now time.Time) (*event.Event, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s for deactivation: %w", id, err)
	}
	if !ev.IsActive {
		return ev, nil
	}
	ev.IsActive = false
	if err := s.events.Update(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to deactivate event %s: %w", id, err)
	}
	if err := s.dueIndex.SyncEvent(ctx, ev, now); err != nil {
		return nil, fmt.Errorf("failed to sync due index for deactivated event %s: %w", id, err)
	}
	return ev, nil
}

// RescheduleOccurrence moves a single occurrence of a recurring event: the
// source event gets the original instant added to its exclusion set, and a
// one-off override event is created at the new time. The rest of the series
// is untouched.
func (s *EventService) RescheduleOccurrence(ctx context.Context, eventID uuid.UUID, occurrence, newStart, now time.Time) (*event.Event, error) {
	src, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s for reschedule: %w", eventID, err)
	}

	override := &event.Event{
		UserID:        src.UserID,
		Type:          src.Type,
		Title:         src.Title,
		Description:   src.Description,
		StartsAt:      newStart.UTC(),
		RemindOffsets: append([]int64(nil), src.RemindOffsets...),
		PaymentStatus: event.PaymentUnknown,
		IsActive:      true,
	}
	if err := s.CreateEvent(ctx, override, now); err != nil {
		return nil, fmt.Errorf("failed to create override event: %w", err)
	}

	src.ExcludeOccurrence(occurrence)
	if err := s.UpdateEvent(ctx, src, now); err != nil {
		return nil, fmt.Errorf("failed to exclude occurrence on event %s: %w", eventID, err)
	}
	return override, nil
}

// MarkLessonPaid records that a lesson has been paid for, which silences the
// evening payment-due reminder for it.
func (s *EventService) MarkLessonPaid(ctx context.Context, eventID uuid.UUID) error {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	ev.PaymentStatus = event.PaymentPaid
	if err := s.events.Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to mark event %s paid: %w", eventID, err)
	}
	return nil
}

// LessonsForDay expands the user's active lesson events over the local day
// containing localDay and returns the occurrences sorted by time.
func (s *EventService) LessonsForDay(ctx context.Context, u *user.User, localDay time.Time) ([]LessonOccurrence, error) {
	loc := u.Location()
	local := localDay.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := s.events.ListActiveByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for user %d: %w", u.ID, err)
	}

	var lessons []LessonOccurrence
	for _, ev := range events {
		if ev.Type != event.TypeLesson {
			continue
		}
		for _, occ := range s.calc.OccurrencesBetween(ev, dayStart.UTC(), dayEnd.UTC()) {
			lessons = append(lessons, LessonOccurrence{At: occ, Event: ev})
		}
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].At.Before(lessons[j].At) })
	return lessons, nil
}
