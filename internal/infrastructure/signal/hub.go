package signal

import (
	"errors"
	"fmt"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

var ErrConnectionGone = errors.New("connection not registered")

// Hub tracks live signaling connections and delivers notifications to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[domain.ConnectionID]*connection
	logger      *zap.SugaredLogger
}

var _ ports.Notifier = (*Hub)(nil)

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		connections: make(map[domain.ConnectionID]*connection),
		logger:      logger,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connections[c.id] == c {
		delete(h.connections, c.id)
	}
}

// Notify queues a notification. A connection whose send buffer is full is
// closed rather than allowed to stall the room.
func (h *Hub) Notify(conn domain.ConnectionID, method string, payload any) error {
	h.mu.RLock()
	c, ok := h.connections[conn]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionGone, conn)
	}

	msg, err := encodeNotification(method, payload)
	if err != nil {
		return err
	}
	if !c.enqueue(msg) {
		return fmt.Errorf("%w: %s", ErrConnectionGone, conn)
	}
	h.logger.Debugw("notification queued", "connection_id", conn, "method", method)
	return nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) IsConnected(conn domain.ConnectionID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[conn]
	return ok
}

// CloseAll closes every connection. Each connection's read loop then runs
// its disconnect cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
