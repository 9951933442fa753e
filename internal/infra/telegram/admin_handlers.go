package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/app"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"

	"github.com/google/uuid"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers wires the manual recovery commands. Only the
// configured admin may use them.
func RegisterAdminHandlers(bot *telebot.Bot, delivery *app.DeliveryService, adminTelegramID int64) {
	// /requeue <message-id>: reset a failed or dead-lettered outbox message
	// back to pending. This is the only way a dead-lettered message ever gets
	// retried.
	bot.Handle("/requeue", func(c telebot.Context) error {
		if c.Sender() == nil || c.Sender().ID != adminTelegramID {
			return c.Send("Команда доступна только администратору.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Использование: /requeue <id сообщения>")
		}
		messageID, err := uuid.Parse(args[0])
		if err != nil {
			return c.Send("Некорректный идентификатор сообщения.")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := delivery.Requeue(ctx, messageID, time.Now().UTC()); err != nil {
			switch {
			case errors.Is(err, idb.ErrOutboxMessageNotFound):
				return c.Send("Сообщение не найдено.")
			case errors.Is(err, app.ErrMessageNotRequeueable):
				return c.Send("Сообщение не в состоянии failed или dead_letter.")
			default:
				logger.Log.WithField("outbox_id", messageID).Errorf("Requeue failed: %v", err)
				return c.Send("Не удалось вернуть сообщение в очередь.")
			}
		}
		return c.Send("Сообщение возвращено в очередь.")
	})
}
