package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
	"github.com/sayasufi/timekeeper-tg/internal/domain/user"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"

	"github.com/google/uuid"
)

const (
	// dispatchBatchLimit bounds how many due entries one tick will process.
	dispatchBatchLimit = 500

	// Digest jobs fire when the recipient-local hour matches and the minute is
	// still inside this tolerance; the date-scoped dedupe key keeps repeated
	// polling within the window to a single message.
	digestMinuteTolerance = 10
	digestMorningHour     = 7
	digestEveningHour     = 20
)

// DispatchService polls the due index and converts due reminders into durable
// outbox messages. It also runs the digest jobs (daily lesson digest,
// payment-due reminders, operational digest), which follow the same
// idempotency pattern but are triggered by a recipient-local time-of-day
// window instead of a due entry.
type DispatchService struct {
	users    user.Repository
	events   event.Repository
	due      notification.DueRepository
	outbox   notification.OutboxRepository
	logs     notification.LogRepository
	dueIndex *DueIndexService
	eventSvc *EventService
}

func NewDispatchService(
	users user.Repository,
	events event.Repository,
	due notification.DueRepository,
	outbox notification.OutboxRepository,
	logs notification.LogRepository,
	dueIndex *DueIndexService,
	eventSvc *EventService,
) *DispatchService {
	return &DispatchService{
		users:    users,
		events:   events,
		due:      due,
		outbox:   outbox,
		logs:     logs,
		dueIndex: dueIndex,
		eventSvc: eventSvc,
	}
}

// DispatchDue processes due entries with trigger_at <= now+window and returns
// the number of outbox messages enqueued.
//
// Safety under concurrent ticks rests on the data layer, not on the
// "processing" mark: the ledger insert's unique key decides who actually fires
// the reminder, and the loser still advances the index because the reminder
// has logically fired regardless of who won.
func (s *DispatchService) DispatchDue(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	items, err := s.due.ListDue(ctx, now.Add(window), dispatchBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due entries: %w", err)
	}

	enqueued := 0
	for _, item := range items {
		if err := s.due.MarkProcessing(ctx, item); err != nil {
			logger.Log.WithField("due_id", item.ID).Errorf("Failed to mark due entry processing: %v", err)
			continue
		}

		u, err := s.users.GetByID(ctx, item.UserID)
		if err != nil && !errors.Is(err, idb.ErrUserNotFound) {
			logger.Log.WithField("due_id", item.ID).Errorf("Failed to resolve user %d: %v", item.UserID, err)
			continue
		}
		ev, err := s.events.GetByID(ctx, item.EventID)
		if err != nil && !errors.Is(err, idb.ErrEventNotFound) {
			logger.Log.WithField("due_id", item.ID).Errorf("Failed to resolve event %s: %v", item.EventID, err)
			continue
		}
		// Missing recipient or event, or a deactivated event: the reminder can
		// never fire, mark done and never re-arm.
		if u == nil || ev == nil || !ev.IsActive {
			if err := s.due.MarkDone(ctx, item); err != nil {
				logger.Log.WithField("due_id", item.ID).Errorf("Failed to mark orphaned due entry done: %v", err)
			}
			continue
		}

		fresh, err := s.logs.Insert(ctx, &notification.Log{
			UserID:        u.ID,
			EventID:       ev.ID,
			OccurrenceAt:  item.OccurrenceAt,
			OffsetMinutes: item.OffsetMinutes,
		})
		if err != nil {
			logger.Log.WithField("due_id", item.ID).Errorf("Failed to insert notification log: %v", err)
			continue
		}
		if fresh {
			msg := &notification.OutboxMessage{
				UserID:  u.ID,
				Channel: notification.ChannelTelegram,
				Payload: notification.Payload{
					TelegramID: u.TelegramID,
					Text:       formatReminder(u, ev.Title, item.OccurrenceAt, item.OffsetMinutes),
					Buttons:    lessonButtons(ev),
				},
				Status:      notification.OutboxStatusPending,
				AvailableAt: now,
				DedupeKey:   nullString(reminderDedupeKey(ev.ID, item.OccurrenceAt, item.OffsetMinutes)),
			}
			created, err := s.outbox.Enqueue(ctx, msg)
			if err != nil {
				logger.Log.WithField("due_id", item.ID).Errorf("Failed to enqueue outbox message: %v", err)
				continue
			}
			if created {
				enqueued++
			}
		}

		// Advance whether the ledger insert was fresh or a duplicate.
		if err := s.dueIndex.AdvanceAfterDispatch(ctx, ev, item.OffsetMinutes, item.OccurrenceAt); err != nil {
			logger.Log.WithField("due_id", item.ID).Errorf("Failed to advance due entry: %v", err)
		}
	}

	logger.Log.WithFields(map[string]interface{}{"enqueued": enqueued, "picked": len(items)}).Info("dispatch_due completed")
	return enqueued, nil
}

// SendDailyLessonDigest enqueues, for every user whose local time is in the
// morning digest window, one message per lesson scheduled today plus a summary.
func (s *DispatchService) SendDailyLessonDigest(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	enqueued := 0
	for _, u := range users {
		localNow := now.In(u.Location())
		if localNow.Hour() != digestMorningHour || localNow.Minute() >= digestMinuteTolerance {
			continue
		}

		lessons, err := s.eventSvc.LessonsForDay(ctx, u, localNow)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to collect lessons for digest: %v", err)
			continue
		}
		if len(lessons) == 0 {
			continue
		}

		date := localNow.Format("2006-01-02")
		lines := make([]string, 0, len(lessons))
		for _, lesson := range lessons {
			local := lesson.At.In(u.Location()).Format("15:04")
			lines = append(lines, fmt.Sprintf("урок %s %s", local, lesson.Event.Title))

			msg := &notification.OutboxMessage{
				UserID:  u.ID,
				Channel: notification.ChannelTelegram,
				Payload: notification.Payload{
					TelegramID: u.TelegramID,
					Text:       fmt.Sprintf("Сегодня урок: %s • %s", local, html.EscapeString(lesson.Event.Title)),
					Buttons:    digestLessonButtons(lesson.Event),
				},
				Status:      notification.OutboxStatusPending,
				AvailableAt: now,
				DedupeKey:   nullString(fmt.Sprintf("digest_lesson:%d:%s:%s", u.ID, lesson.Event.ID, date)),
			}
			created, err := s.outbox.Enqueue(ctx, msg)
			if err != nil {
				logger.Log.WithField("user_id", u.ID).Errorf("Failed to enqueue digest lesson message: %v", err)
				continue
			}
			if created {
				enqueued++
			}
		}

		summary := &notification.OutboxMessage{
			UserID:  u.ID,
			Channel: notification.ChannelTelegram,
			Payload: notification.Payload{
				TelegramID: u.TelegramID,
				Text:       "📋 Уроки на сегодня:\n" + strings.Join(lines, "\n"),
			},
			Status:      notification.OutboxStatusPending,
			AvailableAt: now,
			DedupeKey:   nullString(fmt.Sprintf("digest_summary:%d:%s", u.ID, date)),
		}
		created, err := s.outbox.Enqueue(ctx, summary)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to enqueue digest summary: %v", err)
			continue
		}
		if created {
			enqueued++
		}
	}

	logger.Log.WithField("enqueued", enqueued).Info("dispatch_daily_digest completed")
	return enqueued, nil
}

// SendPaymentDueReminders nudges, in the evening digest window, about today's
// past lessons that are not yet marked as paid.
func (s *DispatchService) SendPaymentDueReminders(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	enqueued := 0
	for _, u := range users {
		localNow := now.In(u.Location())
		if localNow.Hour() != digestEveningHour || localNow.Minute() >= digestMinuteTolerance {
			continue
		}

		lessons, err := s.eventSvc.LessonsForDay(ctx, u, localNow)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to collect lessons for payment reminders: %v", err)
			continue
		}

		date := localNow.Format("2006-01-02")
		for _, lesson := range lessons {
			localOcc := lesson.At.In(u.Location())
			if !localOcc.Before(localNow) {
				continue
			}
			if lesson.Event.PaymentStatus == event.PaymentPaid {
				continue
			}

			msg := &notification.OutboxMessage{
				UserID:  u.ID,
				Channel: notification.ChannelTelegram,
				Payload: notification.Payload{
					TelegramID: u.TelegramID,
					Text: fmt.Sprintf(
						"Напоминание об оплате: урок %s в %s еще не отмечен как оплаченный.",
						html.EscapeString(lesson.Event.Title), localOcc.Format("15:04"),
					),
				},
				Status:      notification.OutboxStatusPending,
				AvailableAt: now,
				DedupeKey:   nullString(fmt.Sprintf("payment_due:%d:%s:%s", u.ID, lesson.Event.ID, date)),
			}
			created, err := s.outbox.Enqueue(ctx, msg)
			if err != nil {
				logger.Log.WithField("user_id", u.ID).Errorf("Failed to enqueue payment reminder: %v", err)
				continue
			}
			if created {
				enqueued++
			}
		}
	}

	logger.Log.WithField("enqueued", enqueued).Info("dispatch_payment_due completed")
	return enqueued, nil
}

// SendOperationalDigest enqueues a short morning/evening status message: how
// many lessons today and how many notifications are still waiting to go out.
func (s *DispatchService) SendOperationalDigest(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	enqueued := 0
	for _, u := range users {
		localNow := now.In(u.Location())
		hour := localNow.Hour()
		if (hour != digestMorningHour && hour != digestEveningHour) || localNow.Minute() >= digestMinuteTolerance {
			continue
		}
		slot := "morning"
		if hour == digestEveningHour {
			slot = "evening"
		}

		lessons, err := s.eventSvc.LessonsForDay(ctx, u, localNow)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to collect lessons for operational digest: %v", err)
			continue
		}
		backlog, err := s.outbox.CountPendingByUser(ctx, u.ID)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to count pending outbox messages: %v", err)
			continue
		}

		msg := &notification.OutboxMessage{
			UserID:  u.ID,
			Channel: notification.ChannelTelegram,
			Payload: notification.Payload{
				TelegramID: u.TelegramID,
				Text:       fmt.Sprintf("📊 Сводка: уроков сегодня — %d, уведомлений в очереди — %d.", len(lessons), backlog),
			},
			Status:      notification.OutboxStatusPending,
			AvailableAt: now,
			DedupeKey:   nullString(fmt.Sprintf("ops_digest:%s:%d:%s", slot, u.ID, localNow.Format("2006-01-02"))),
		}
		created, err := s.outbox.Enqueue(ctx, msg)
		if err != nil {
			logger.Log.WithField("user_id", u.ID).Errorf("Failed to enqueue operational digest: %v", err)
			continue
		}
		if created {
			enqueued++
		}
	}

	logger.Log.WithField("enqueued", enqueued).Info("dispatch_operational_digest completed")
	return enqueued, nil
}

// reminderDedupeKey builds the outbox dedupe key for a fired reminder. This is
// defense in depth on top of the notification ledger: even if two ticks both
// think they inserted the ledger row, the outbox unique key admits one message.
func reminderDedupeKey(eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) string {
	return fmt.Sprintf("%s:%s:%d", eventID, occurrenceAt.UTC().Format(time.RFC3339), offsetMinutes)
}

func formatReminder(u *user.User, title string, occurrence time.Time, offsetMinutes int) string {
	local := occurrence.In(u.Location()).Format("02.01 15:04")
	safeTitle := html.EscapeString(title)
	if offsetMinutes == 0 {
		return fmt.Sprintf("🔔 <b>Время пришло</b>\n\n<b>%s</b>\n📅 %s", safeTitle, local)
	}
	return fmt.Sprintf("⏰ <b>Напоминание через %d мин</b>\n\n<b>%s</b>\n📅 Событие: %s", offsetMinutes, safeTitle, local)
}

// lessonButtons returns the action keyboard for a lesson reminder; other event
// types get a plain message.
func lessonButtons(ev *event.Event) []notification.Button {
	if ev.Type != event.TypeLesson {
		return nil
	}
	return []notification.Button{
		{Title: "Оплачено", CallbackData: fmt.Sprintf("lesson:paid:%s", ev.ID)},
		{Title: "Перенести", CallbackData: fmt.Sprintf("lesson:reschedule:%s", ev.ID)},
		{Title: "Пропуск", CallbackData: fmt.Sprintf("lesson:missed:%s", ev.ID)},
		{Title: "Заметка", CallbackData: fmt.Sprintf("lesson:note:%s", ev.ID)},
	}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func digestLessonButtons(ev *event.Event) []notification.Button {
	return []notification.Button{
		{Title: "Перенести", CallbackData: fmt.Sprintf("lesson:reschedule:%s", ev.ID)},
		{Title: "Отменить", CallbackData: fmt.Sprintf("lesson:cancel:%s", ev.ID)},
		{Title: "Оплачено", CallbackData: fmt.Sprintf("lesson:paid:%s", ev.ID)},
		{Title: "Пропуск", CallbackData: fmt.Sprintf("lesson:missed:%s", ev.ID)},
		{Title: "Добавить заметку", CallbackData: fmt.Sprintf("lesson:note:%s", ev.ID)},
	}
}
