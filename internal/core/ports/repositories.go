package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// RoomDirectory lists live rooms, possibly across several signaling instances.
type RoomDirectory interface {
	Register(ctx context.Context, record domain.RoomRecord) error
	// Unregister removes name only while its record still carries id.
	Unregister(ctx context.Context, name domain.RoomName, id string) error
	Get(ctx context.Context, name domain.RoomName) (*domain.RoomRecord, error)
	List(ctx context.Context) ([]domain.RoomRecord, error)
}
