package redis

import (
	"testing"

	"huddle/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisRoomDirectory_Key(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	dir := NewRedisRoomDirectory(client, "", "node-a").(*RedisRoomDirectory)
	assert.Equal(t, "huddle:rooms", dir.key)

	dir = NewRedisRoomDirectory(client, "staging", "node-a").(*RedisRoomDirectory)
	assert.Equal(t, "staging:rooms", dir.key)
}

func TestDecodeRecord(t *testing.T) {
	record, err := decodeRecord(`{"name":"standup","instance_id":"node-a","worker_id":"w1","created_at":"2024-01-02T03:04:05Z"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomName("standup"), record.Name)
	assert.Equal(t, "node-a", record.InstanceID)
	assert.Equal(t, 2024, record.CreatedAt.Year())

	_, err = decodeRecord("nope")
	assert.Error(t, err)
}
