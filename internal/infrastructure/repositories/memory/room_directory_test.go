package memory

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoomDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoomDirectory()

	_, err := dir.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	now := time.Now()
	require.NoError(t, dir.Register(ctx, domain.RoomRecord{ID: "z1", Name: "zeta", InstanceID: "a", WorkerID: "w1", CreatedAt: now}))
	require.NoError(t, dir.Register(ctx, domain.RoomRecord{ID: "a1", Name: "alpha", InstanceID: "a", WorkerID: "w2", CreatedAt: now}))

	record, err := dir.Get(ctx, "zeta")
	require.NoError(t, err)
	assert.Equal(t, "w1", record.WorkerID)

	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomName("alpha"), list[0].Name)
	assert.Equal(t, domain.RoomName("zeta"), list[1].Name)

	require.NoError(t, dir.Unregister(ctx, "zeta", "z1"))
	require.NoError(t, dir.Unregister(ctx, "zeta", "z1"))
	_, err = dir.Get(ctx, "zeta")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMemoryRoomDirectory_RegisterReplaces(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoomDirectory()

	require.NoError(t, dir.Register(ctx, domain.RoomRecord{Name: "r", WorkerID: "old"}))
	require.NoError(t, dir.Register(ctx, domain.RoomRecord{Name: "r", WorkerID: "new"}))

	record, err := dir.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "new", record.WorkerID)

	list, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryRoomDirectory_UnregisterKeepsNewerRoom(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoomDirectory()

	require.NoError(t, dir.Register(ctx, domain.RoomRecord{ID: "old", Name: "r", WorkerID: "w1"}))
	require.NoError(t, dir.Register(ctx, domain.RoomRecord{ID: "new", Name: "r", WorkerID: "w2"}))

	require.NoError(t, dir.Unregister(ctx, "r", "old"))

	record, err := dir.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "new", record.ID)

	require.NoError(t, dir.Unregister(ctx, "r", "new"))
	_, err = dir.Get(ctx, "r")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
