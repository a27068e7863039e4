package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TransitionEvent is the payload published for every lifecycle transition.
// The notification subsystem consumes these; the engine only emits them.
type TransitionEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher emits lifecycle transition events after commit.
type EventPublisher interface {
	PublishTransition(ctx context.Context, event TransitionEvent)
}

// RedisEventPublisher publishes transition events to a Redis channel.
// Delivery is best effort: the audit row written inside the transaction is
// the durable record, the channel is only a wake-up for subscribers.
type RedisEventPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisEventPublisher(rdb *redis.Client, channel string) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, channel: channel}
}

func (p *RedisEventPublisher) PublishTransition(ctx context.Context, event TransitionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding transition event: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		log.Printf("Error publishing transition event for loan %s: %v", event.LoanID, err)
	}
}

// NopEventPublisher discards events; used when Redis is not wired.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishTransition(context.Context, TransitionEvent) {}
