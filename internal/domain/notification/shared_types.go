package notification

// DueStatus is the lifecycle state of a DueEntry.
// pending -> processing -> pending again (rescheduled to the next occurrence)
// or processing -> done (no more occurrences, or the event was deactivated).
type DueStatus string

const (
	DueStatusPending    DueStatus = "pending"
	DueStatusProcessing DueStatus = "processing"
	DueStatusDone       DueStatus = "done"
)

// OutboxStatus is the lifecycle state of an OutboxMessage.
// "sent" and "dead_letter" are terminal; "failed" is terminal too but marks a
// permanent data problem (missing recipient) rather than exhausted retries.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusSent       OutboxStatus = "sent"
	OutboxStatusFailed     OutboxStatus = "failed"
	OutboxStatusDeadLetter OutboxStatus = "dead_letter"
)

// ChannelTelegram is the only delivery channel currently wired; the column
// exists so other channels can be added without a schema change.
const ChannelTelegram = "telegram"
