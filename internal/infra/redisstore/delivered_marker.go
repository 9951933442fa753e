package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeliveredMarkerStore keeps short-TTL "this outbox message was delivered"
// flags. The flag covers the crash window between a successful send and the
// commit of the sent status: a retry finds the flag and skips the duplicate
// send. The TTL only needs to outlive the retry schedule, not the message.
type DeliveredMarkerStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeliveredMarkerStore(client *redis.Client, ttl time.Duration) *DeliveredMarkerStore {
	return &DeliveredMarkerStore{client: client, ttl: ttl}
}

func (s *DeliveredMarkerStore) IsDelivered(ctx context.Context, messageID uuid.UUID) (bool, error) {
	_, err := s.client.Get(ctx, markerKey(messageID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("error checking delivered marker: %w", err)
	}
	return true, nil
}

func (s *DeliveredMarkerStore) MarkDelivered(ctx context.Context, messageID uuid.UUID) error {
	if err := s.client.Set(ctx, markerKey(messageID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("error writing delivered marker: %w", err)
	}
	return nil
}

func markerKey(messageID uuid.UUID) string {
	return "outbox:delivered:" + messageID.String()
}
