package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel carries room events between signaling instances.
const DefaultChannel = "huddle:events"

// Envelope is a room event tagged with the instance that produced it.
type Envelope struct {
	InstanceID string           `json:"instance_id"`
	Event      domain.RoomEvent `json:"event"`
}

// EventHandler receives room events published by other instances.
type EventHandler func(env *Envelope) error

// EventBus publishes room events on Redis pub/sub and delivers events from
// other instances to a subscriber.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.EventPublisher = (*EventBus)(nil)

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) InstanceID() string { return eb.instanceID }
func (eb *EventBus) Channel() string    { return eb.channel }

// PublishRoomEvent sends the event to every subscribed instance.
func (eb *EventBus) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	data, err := eb.encode(event)
	if err != nil {
		return err
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room", event.Room,
	)
	return nil
}

func (eb *EventBus) encode(event domain.RoomEvent) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(Envelope{InstanceID: eb.instanceID, Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Subscribe blocks delivering events from other instances until ctx is done
// or the bus is closed.
func (eb *EventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.handle(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) handle(payload string, handler EventHandler) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if env.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&env); err != nil {
		eb.logger.Warnw("error handling event",
			"type", env.Event.Type,
			"instance_id", env.InstanceID,
			"error", err,
		)
	}
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
