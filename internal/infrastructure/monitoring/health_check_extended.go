package monitoring

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/ports"
	"huddle/internal/core/services"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddDirectoryCheck lists rooms through the directory.
func (h *HealthChecker) AddDirectoryCheck(directory ports.RoomDirectory, interval, timeout time.Duration) {
	h.AddCheck("room_directory", func(ctx context.Context) (bool, error) {
		if _, err := directory.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddWorkerPoolCheck fails while any media worker slot holds a dead worker.
func (h *HealthChecker) AddWorkerPoolCheck(pool *services.WorkerPool, interval, timeout time.Duration) {
	h.AddCheck("media_workers", func(ctx context.Context) (bool, error) {
		status := pool.Status(ctx)
		if len(status) == 0 {
			return false, fmt.Errorf("no media workers")
		}
		for _, w := range status {
			if !w.Alive {
				return false, fmt.Errorf("worker %d (%s) is dead", w.Index, w.ID)
			}
		}
		return true, nil
	}, interval, timeout)
}
