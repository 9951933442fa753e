package event

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the operations for persisting and retrieving Event entities.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	Update(ctx context.Context, e *Event) error
	ListActiveByUser(ctx context.Context, userID int64) ([]*Event, error)
}
