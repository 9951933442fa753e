// internal/infra/telegram/client.go
package telegram

import (
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the domain Notifier interface using the
// gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient, attaching the
// buttons as an inline keyboard (one button per row). Messages are formatted
// with Telegram HTML.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, buttons []notification.Button) error {
	options := &telebot.SendOptions{ParseMode: telebot.ModeHTML}

	if len(buttons) > 0 {
		markup := &telebot.ReplyMarkup{}
		rows := make([]telebot.Row, 0, len(buttons))
		for _, b := range buttons {
			rows = append(rows, markup.Row(markup.Data(b.Title, b.CallbackData)))
		}
		markup.Inline(rows...)
		options.ReplyMarkup = markup
	}

	recipient := &telebot.User{ID: recipientChatID}
	_, err := tba.bot.Send(recipient, text, options)
	return err
}
