package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/pkg/circuitbreaker"
)

// EventPublisher forwards domain events to Redis pub/sub so approval UIs
// and notifiers running in other processes can react.
//
// Each event goes to EventChannel(type) as a JSON shared.EventEnvelope.
// With a breaker attached, a Redis outage costs one timeout per cooldown
// instead of one per event.
type EventPublisher struct {
	cache   *Cache
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// NewEventPublisher creates a new EventPublisher. breaker may be nil.
func NewEventPublisher(cache *Cache, timeout time.Duration, breaker *circuitbreaker.Breaker) *EventPublisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &EventPublisher{cache: cache, timeout: timeout, breaker: breaker}
}

// Publish implements shared.EventPublisher.
func (p *EventPublisher) Publish(event shared.Event) error {
	env, err := shared.NewEnvelope(uuid.NewString(), event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	send := func(ctx context.Context) error {
		return p.cache.Publish(ctx, EventChannel(string(env.Type)), env)
	}
	if p.breaker == nil {
		return send(ctx)
	}
	return p.breaker.Execute(ctx, send)
}
