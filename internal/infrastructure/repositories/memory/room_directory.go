package memory

import (
	"context"
	"sort"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// MemoryRoomDirectory lists the rooms of a single instance.
type MemoryRoomDirectory struct {
	rooms map[domain.RoomName]domain.RoomRecord
	mu    sync.RWMutex
}

func NewMemoryRoomDirectory() ports.RoomDirectory {
	return &MemoryRoomDirectory{
		rooms: make(map[domain.RoomName]domain.RoomRecord),
	}
}

func (d *MemoryRoomDirectory) Register(ctx context.Context, record domain.RoomRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms[record.Name] = record
	return nil
}

func (d *MemoryRoomDirectory) Unregister(ctx context.Context, name domain.RoomName, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record, exists := d.rooms[name]; exists && record.ID == id {
		delete(d.rooms, name)
	}
	return nil
}

func (d *MemoryRoomDirectory) Get(ctx context.Context, name domain.RoomName) (*domain.RoomRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, exists := d.rooms[name]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return &record, nil
}

func (d *MemoryRoomDirectory) List(ctx context.Context) ([]domain.RoomRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records := make([]domain.RoomRecord, 0, len(d.rooms))
	for _, record := range d.rooms {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}
