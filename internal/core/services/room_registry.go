package services

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
)

type registryEntry struct {
	room  *Room
	ready chan struct{}
	err   error
}

// RoomRegistry is the process-wide map of live rooms. Find-or-create is
// atomic per name: concurrent callers for an unknown name wait for the single
// creation in flight instead of creating duplicates.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]*registryEntry
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[domain.RoomName]*registryEntry),
	}
}

// Acquire returns the live room named name, creating it with create when
// absent. created is true only for the caller whose create call built it.
// A room whose worker died is evicted and replaced by a fresh one.
func (r *RoomRegistry) Acquire(ctx context.Context, name domain.RoomName, create func(context.Context) (*Room, error)) (room *Room, created bool, err error) {
	for {
		r.mu.Lock()
		entry, ok := r.rooms[name]
		if !ok {
			entry = &registryEntry{ready: make(chan struct{})}
			r.rooms[name] = entry
			r.mu.Unlock()
			return r.build(ctx, name, entry, create)
		}
		r.mu.Unlock()

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}

		if entry.err != nil {
			// waiters share the creator's failure; the entry is already gone
			return nil, false, entry.err
		}
		if entry.room.Healthy() {
			return entry.room, false, nil
		}

		r.mu.Lock()
		if r.rooms[name] == entry {
			delete(r.rooms, name)
		}
		r.mu.Unlock()
	}
}

func (r *RoomRegistry) build(ctx context.Context, name domain.RoomName, entry *registryEntry, create func(context.Context) (*Room, error)) (*Room, bool, error) {
	room, err := create(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		entry.err = err
		if r.rooms[name] == entry {
			delete(r.rooms, name)
		}
		close(entry.ready)
		return nil, false, err
	}
	entry.room = room
	close(entry.ready)
	return room, true, nil
}

func (r *RoomRegistry) Lookup(name domain.RoomName) (*Room, bool) {
	r.mu.Lock()
	entry, ok := r.rooms[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-entry.ready:
		return entry.room, entry.room != nil
	default:
		return nil, false
	}
}

// Remove deregisters room if it is still the registered instance for its
// name. A later Acquire for the same name creates a fresh room.
func (r *RoomRegistry) Remove(room *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[room.name]
	if !ok || entry.room != room {
		return false
	}
	delete(r.rooms, room.name)
	return true
}

// Holds reports whether any room, live or still being created, is
// registered under name.
func (r *RoomRegistry) Holds(name domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[name]
	return ok
}

func (r *RoomRegistry) List() []*Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, entry := range r.rooms {
		if entry.room != nil {
			rooms = append(rooms, entry.room)
		}
	}
	return rooms
}

func (r *RoomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
