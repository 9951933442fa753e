package telegram

import (
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
)

// Notifier defines an interface for sending messages via a Telegram bot.
// This keeps the delivery worker decoupled from the specific bot library.
type Notifier interface {
	SendMessage(recipientChatID int64, text string, buttons []notification.Button) error
}
