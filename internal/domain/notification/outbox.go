package notification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Button is one inline action attached to an outbound message.
type Button struct {
	Title        string `json:"title"`
	CallbackData string `json:"callback_data"`
}

// Payload is the channel-level content of an outbound message, stored as JSONB.
type Payload struct {
	TelegramID int64    `json:"telegram_id"`
	Text       string   `json:"text"`
	Buttons    []Button `json:"buttons,omitempty"`
}

// OutboxMessage is a durable pending outbound notification. Writing the intent
// to this table before attempting delivery means a crash between "decided to
// notify" and "actually sent" can never lose the notification.
type OutboxMessage struct {
	ID      uuid.UUID
	UserID  int64
	Channel string
	Payload Payload
	Status  OutboxStatus
	// Attempts counts delivery tries. It is incremented before each send, so
	// the retry bound holds even if the process dies mid-send.
	Attempts    int
	AvailableAt time.Time // earliest time the delivery worker may pick this up
	// DedupeKey guarantees at most one live message per logical action
	// (unique, nullable). Reminder messages key on event:occurrence:offset,
	// digests on a date-scoped key.
	DedupeKey sql.NullString
	LastError sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}
