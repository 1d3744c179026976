package distributed

import (
	"context"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// BreakerPublisher stops calling a failing publisher until the breaker lets
// a probe through.
type BreakerPublisher struct {
	next    ports.EventPublisher
	breaker *circuitbreaker.CircuitBreaker
}

var _ ports.EventPublisher = (*BreakerPublisher)(nil)

func NewBreakerPublisher(next ports.EventPublisher, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *BreakerPublisher {
	cb := circuitbreaker.New(cfg)
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event publisher circuit breaker changed state",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return &BreakerPublisher{next: next, breaker: cb}
}

func (p *BreakerPublisher) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.PublishRoomEvent(ctx, event)
	})
}

func (p *BreakerPublisher) State() circuitbreaker.State { return p.breaker.State() }
