package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/event"
	"github.com/sayasufi/timekeeper-tg/internal/domain/notification"
	"github.com/sayasufi/timekeeper-tg/internal/domain/user"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"

	"github.com/google/uuid"
)

// In-memory repository fakes. All methods are mutex-guarded so tests can hit
// the services from multiple goroutines the way concurrent worker ticks would.

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int64]*user.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID = r.nextID
	r.nextID++
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, idb.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByTelegramID(_ context.Context, telegramID int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, idb.ErrUserNotFound
}

func (r *fakeUserRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return idb.ErrUserNotFound
	}
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) ListAll(_ context.Context) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*user.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*event.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[uuid.UUID]*event.Event)}
}

func (r *fakeEventRepo) Create(_ context.Context, e *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.events[e.ID] = e
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id uuid.UUID) (*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, idb.ErrEventNotFound
	}
	return e, nil
}

func (r *fakeEventRepo) Update(_ context.Context, e *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return idb.ErrEventNotFound
	}
	r.events[e.ID] = e
	return nil
}

func (r *fakeEventRepo) ListActiveByUser(_ context.Context, userID int64) ([]*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]*event.Event, 0)
	for _, e := range r.events {
		if e.UserID == userID && e.IsActive {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartsAt.Before(events[j].StartsAt) })
	return events, nil
}

type fakeDueRepo struct {
	mu      sync.Mutex
	entries []*notification.DueEntry
}

func newFakeDueRepo() *fakeDueRepo {
	return &fakeDueRepo{}
}

func (r *fakeDueRepo) Upsert(_ context.Context, entry *notification.DueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.EventID == entry.EventID &&
			existing.OccurrenceAt.Equal(entry.OccurrenceAt) &&
			existing.OffsetMinutes == entry.OffsetMinutes {
			existing.TriggerAt = entry.TriggerAt
			existing.Status = notification.DueStatusPending
			existing.UpdatedAt = time.Now().UTC()
			entry.ID = existing.ID
			return nil
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeDueRepo) GetByUnique(_ context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (*notification.DueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.EventID == eventID && e.OccurrenceAt.Equal(occurrenceAt) && e.OffsetMinutes == offsetMinutes {
			return e, nil
		}
	}
	return nil, idb.ErrDueEntryNotFound
}

func (r *fakeDueRepo) ListDue(_ context.Context, until time.Time, limit int) ([]*notification.DueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := make([]*notification.DueEntry, 0)
	for _, e := range r.entries {
		if e.Status == notification.DueStatusPending && !e.TriggerAt.After(until) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].TriggerAt.Before(due[j].TriggerAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeDueRepo) MarkProcessing(_ context.Context, entry *notification.DueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Status = notification.DueStatusProcessing
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeDueRepo) MarkDone(_ context.Context, entry *notification.DueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Status = notification.DueStatusDone
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeDueRepo) MarkPending(_ context.Context, entry *notification.DueEntry, triggerAt, occurrenceAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Status = notification.DueStatusPending
	entry.TriggerAt = triggerAt
	entry.OccurrenceAt = occurrenceAt
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeDueRepo) DeleteForEvent(_ context.Context, eventID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	deleted := 0
	for _, e := range r.entries {
		if e.EventID == eventID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

func (r *fakeDueRepo) ReclaimStuckProcessing(_ context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	threshold := time.Now().UTC().Add(-olderThan)
	reclaimed := 0
	for _, e := range r.entries {
		if e.Status == notification.DueStatusProcessing && e.UpdatedAt.Before(threshold) {
			e.Status = notification.DueStatusPending
			e.UpdatedAt = time.Now().UTC()
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *fakeDueRepo) all() []*notification.DueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*notification.DueEntry(nil), r.entries...)
}

type fakeLogRepo struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{keys: make(map[string]bool)}
}

func logKey(eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) string {
	return fmt.Sprintf("%s|%s|%d", eventID, occurrenceAt.UTC().Format(time.RFC3339), offsetMinutes)
}

func (r *fakeLogRepo) Insert(_ context.Context, log *notification.Log) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := logKey(log.EventID, log.OccurrenceAt, log.OffsetMinutes)
	if r.keys[key] {
		return false, nil
	}
	r.keys[key] = true
	return true, nil
}

func (r *fakeLogRepo) WasSent(_ context.Context, eventID uuid.UUID, occurrenceAt time.Time, offsetMinutes int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[logKey(eventID, occurrenceAt, offsetMinutes)], nil
}

func (r *fakeLogRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	messages []*notification.OutboxMessage
	byDedupe map[string]bool
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{byDedupe: make(map[string]bool)}
}

func (r *fakeOutboxRepo) Enqueue(_ context.Context, msg *notification.OutboxMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.DedupeKey.Valid && r.byDedupe[msg.DedupeKey.String] {
		return false, nil
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.DedupeKey.Valid {
		r.byDedupe[msg.DedupeKey.String] = true
	}
	msg.CreatedAt = time.Now().UTC()
	msg.UpdatedAt = msg.CreatedAt
	r.messages = append(r.messages, msg)
	return true, nil
}

func (r *fakeOutboxRepo) GetByID(_ context.Context, id uuid.UUID) (*notification.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, idb.ErrOutboxMessageNotFound
}

func (r *fakeOutboxRepo) ListReady(_ context.Context, now time.Time, limit int) ([]*notification.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ready := make([]*notification.OutboxMessage, 0)
	for _, m := range r.messages {
		if m.Status == notification.OutboxStatusPending && !m.AvailableAt.After(now) {
			ready = append(ready, m)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].AvailableAt.Before(ready[j].AvailableAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (r *fakeOutboxRepo) MarkSent(_ context.Context, msg *notification.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Status = notification.OutboxStatusSent
	msg.LastError.Valid = false
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(_ context.Context, msg *notification.OutboxMessage, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Status = notification.OutboxStatusFailed
	msg.LastError.String = reason
	msg.LastError.Valid = true
	return nil
}

func (r *fakeOutboxRepo) MarkDeadLetter(_ context.Context, msg *notification.OutboxMessage, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Status = notification.OutboxStatusDeadLetter
	msg.LastError.String = reason
	msg.LastError.Valid = true
	return nil
}

func (r *fakeOutboxRepo) IncrementAttempts(_ context.Context, msg *notification.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Attempts++
	return nil
}

func (r *fakeOutboxRepo) Postpone(_ context.Context, msg *notification.OutboxMessage, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.AvailableAt = until
	msg.Status = notification.OutboxStatusPending
	return nil
}

func (r *fakeOutboxRepo) ScheduleRetry(_ context.Context, msg *notification.OutboxMessage, until time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.AvailableAt = until
	msg.Status = notification.OutboxStatusPending
	msg.LastError.String = reason
	msg.LastError.Valid = true
	return nil
}

func (r *fakeOutboxRepo) Requeue(_ context.Context, msg *notification.OutboxMessage, availableAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Status = notification.OutboxStatusPending
	msg.Attempts = 0
	msg.AvailableAt = availableAt
	msg.LastError.Valid = false
	return nil
}

func (r *fakeOutboxRepo) CountPendingByUser(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.UserID == userID && m.Status == notification.OutboxStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *fakeOutboxRepo) all() []*notification.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*notification.OutboxMessage(nil), r.messages...)
}

type sentMessage struct {
	chatID  int64
	text    string
	buttons []notification.Button
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int // fail this many sends before succeeding; -1 fails forever
	err      error
}

func (n *fakeNotifier) SendMessage(chatID int64, text string, buttons []notification.Button) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures != 0 {
		if n.failures > 0 {
			n.failures--
		}
		if n.err != nil {
			return n.err
		}
		return fmt.Errorf("send failed")
	}
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text, buttons: buttons})
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeMarker struct {
	mu        sync.Mutex
	delivered map[uuid.UUID]bool
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{delivered: make(map[uuid.UUID]bool)}
}

func (m *fakeMarker) IsDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[id], nil
}

func (m *fakeMarker) MarkDelivered(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[id] = true
	return nil
}
