package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// unregisterScript deletes a room entry only when it is still the same room
// instance registered by the calling instance.
var unregisterScript = redis.NewScript(`
	local v = redis.call("HGET", KEYS[1], ARGV[1])
	if not v then
		return 0
	end
	local record = cjson.decode(v)
	if record["instance_id"] == ARGV[2] and record["id"] == ARGV[3] then
		return redis.call("HDEL", KEYS[1], ARGV[1])
	end
	return 0
`)

// RedisRoomDirectory keeps one hash of room records shared by all instances.
//
// TODO: expire records owned by instances that stop heartbeating; a crashed
// instance currently leaves its rooms listed until it restarts and rejoins.
type RedisRoomDirectory struct {
	client     *redis.Client
	key        string
	instanceID string
}

func NewRedisRoomDirectory(client *redis.Client, prefix, instanceID string) ports.RoomDirectory {
	if prefix == "" {
		prefix = "huddle"
	}
	return &RedisRoomDirectory{
		client:     client,
		key:        roomsKey(prefix),
		instanceID: instanceID,
	}
}

func roomsKey(prefix string) string {
	return prefix + ":rooms"
}

func (d *RedisRoomDirectory) Register(ctx context.Context, record domain.RoomRecord) error {
	if record.InstanceID == "" {
		record.InstanceID = d.instanceID
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal room record: %w", err)
	}

	if err := d.client.HSet(ctx, d.key, string(record.Name), data).Err(); err != nil {
		return fmt.Errorf("failed to register room in Redis: %w", err)
	}
	return nil
}

func (d *RedisRoomDirectory) Unregister(ctx context.Context, name domain.RoomName, id string) error {
	err := unregisterScript.Run(ctx, d.client, []string{d.key}, string(name), d.instanceID, id).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to unregister room in Redis: %w", err)
	}
	return nil
}

func (d *RedisRoomDirectory) Get(ctx context.Context, name domain.RoomName) (*domain.RoomRecord, error) {
	data, err := d.client.HGet(ctx, d.key, string(name)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}
	return decodeRecord(data)
}

func (d *RedisRoomDirectory) List(ctx context.Context) ([]domain.RoomRecord, error) {
	entries, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms from Redis: %w", err)
	}

	records := make([]domain.RoomRecord, 0, len(entries))
	for _, data := range entries {
		record, err := decodeRecord(data)
		if err != nil {
			continue
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

func decodeRecord(data string) (*domain.RoomRecord, error) {
	var record domain.RoomRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room record: %w", err)
	}
	return &record, nil
}
