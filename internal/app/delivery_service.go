package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
	"github.com/sayasufi/timekeeper-tg/internal/domain/telegram"
	"github.com/sayasufi/timekeeper-tg/internal/domain/user"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"

	"github.com/google/uuid"
)

// Custom application-level errors for the manual requeue path.
var ErrMessageNotRequeueable = fmt.Errorf("outbox message is not in a failed or dead_letter state")

// DeliveredMarker is a short-TTL "already delivered" flag keyed by outbox
// message id. It guards against a crash that sent the message successfully but
// died before committing the sent status: the retry finds the marker and skips
// the duplicate send.
type DeliveredMarker interface {
	IsDelivered(ctx context.Context, messageID uuid.UUID) (bool, error)
	MarkDelivered(ctx context.Context, messageID uuid.UUID) error
}

// DeliveryService drains the outbox: it applies the recipient's send-window
// policy, retries transient failures with capped exponential backoff and
// dead-letters a message after the attempt budget is spent.
type DeliveryService struct {
	outbox   notification.OutboxRepository
	users    user.Repository
	notifier telegram.Notifier
	marker   DeliveredMarker // optional; nil disables the delivered-marker check

	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewDeliveryService(
	outbox notification.OutboxRepository,
	users user.Repository,
	notifier telegram.Notifier,
	marker DeliveredMarker,
	maxAttempts int,
	backoffBase time.Duration,
	backoffMax time.Duration,
) *DeliveryService {
	return &DeliveryService{
		outbox:      outbox,
		users:       users,
		notifier:    notifier,
		marker:      marker,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

// DeliverReady sends pending messages whose available_at has arrived, at most
// limit of them, and returns the number marked sent.
func (s *DeliveryService) DeliverReady(ctx context.Context, now time.Time, limit int) (int, error) {
	items, err := s.outbox.ListReady(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list ready outbox messages: %w", err)
	}

	sent := 0
	for _, item := range items {
		u, err := s.users.GetByID(ctx, item.UserID)
		if err != nil {
			if errors.Is(err, idb.ErrUserNotFound) {
				// The recipient is gone; no retry can fix that.
				if err := s.outbox.MarkFailed(ctx, item, "user_not_found"); err != nil {
					logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to mark message failed: %v", err)
				}
				continue
			}
			logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to resolve user %d: %v", item.UserID, err)
			continue
		}

		// Quiet hours / work hours / work days: postpone without spending an
		// attempt. The message is not at fault, the clock is.
		if until, blocked := nextAllowedTime(u, now); blocked {
			if err := s.outbox.Postpone(ctx, item, until); err != nil {
				logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to postpone message: %v", err)
			}
			continue
		}

		// Count the attempt before sending so the retry bound holds even if we
		// crash mid-send.
		if err := s.outbox.IncrementAttempts(ctx, item); err != nil {
			logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to increment attempts: %v", err)
			continue
		}

		if s.marker != nil {
			delivered, err := s.marker.IsDelivered(ctx, item.ID)
			if err != nil {
				logger.Log.WithField("outbox_id", item.ID).Warnf("Delivered-marker check failed, proceeding with send: %v", err)
			} else if delivered {
				// A previous attempt sent this but died before committing.
				if err := s.outbox.MarkSent(ctx, item); err != nil {
					logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to mark delivered message sent: %v", err)
					continue
				}
				sent++
				continue
			}
		}

		sendErr := s.notifier.SendMessage(item.Payload.TelegramID, item.Payload.Text, item.Payload.Buttons)
		if sendErr == nil {
			if s.marker != nil {
				if err := s.marker.MarkDelivered(ctx, item.ID); err != nil {
					logger.Log.WithField("outbox_id", item.ID).Warnf("Failed to write delivered marker: %v", err)
				}
			}
			if err := s.outbox.MarkSent(ctx, item); err != nil {
				logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to mark message sent: %v", err)
				continue
			}
			sent++
			continue
		}

		if item.Attempts >= s.maxAttempts {
			logger.Log.WithFields(map[string]interface{}{
				"outbox_id": item.ID, "attempts": item.Attempts,
			}).Warnf("Message exhausted retries, dead-lettering: %v", sendErr)
			if err := s.outbox.MarkDeadLetter(ctx, item, sendErr.Error()); err != nil {
				logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to dead-letter message: %v", err)
			}
			continue
		}
		retryAt := now.Add(s.backoffDelay(item.Attempts))
		if err := s.outbox.ScheduleRetry(ctx, item, retryAt, sendErr.Error()); err != nil {
			logger.Log.WithField("outbox_id", item.ID).Errorf("Failed to schedule retry: %v", err)
		}
	}

	logger.Log.WithFields(map[string]interface{}{"sent": sent, "picked": len(items)}).Info("outbox_deliver completed")
	return sent, nil
}

// backoffDelay returns min(base * 2^(attempts-1), cap). Non-decreasing in
// attempts and never above the cap.
func (s *DeliveryService) backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.backoffMax || delay < 0 {
			return s.backoffMax
		}
	}
	if delay > s.backoffMax {
		return s.backoffMax
	}
	return delay
}

// Requeue is the administrative recovery path: it resets a failed or
// dead-lettered message back to pending with a fresh available_at and a fresh
// attempt budget. Terminal states are otherwise never retried automatically.
func (s *DeliveryService) Requeue(ctx context.Context, messageID uuid.UUID, availableAt time.Time) error {
	item, err := s.outbox.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to get outbox message %s: %w", messageID, err)
	}
	if item.Status != notification.OutboxStatusFailed && item.Status != notification.OutboxStatusDeadLetter {
		return ErrMessageNotRequeueable
	}
	if err := s.outbox.Requeue(ctx, item, availableAt); err != nil {
		return fmt.Errorf("failed to requeue outbox message %s: %w", messageID, err)
	}
	logger.Log.WithField("outbox_id", messageID).Info("Outbox message requeued")
	return nil
}
