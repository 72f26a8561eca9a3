// Package pubsub distributes entitlement change events across instances via
// Redis Pub/Sub. Webhook processors publish when the ledger changes
// server-side (renewal, refund, manual grant removal); subscribed instances
// invalidate their cached verdict and re-resolve the affected subject.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

const entitlementChangeChannel = "daybrief:entitlement:change"

// EntitlementChangeEvent announces that a subject's ledger record changed
// outside the request path.
type EntitlementChangeEvent struct {
	SubjectKey string                       `json:"subject_key"`
	ChangeType entitlement.NotificationType `json:"change_type"`
	Timestamp  int64                        `json:"timestamp"`
}

// EntitlementEventHandler is a callback for handling entitlement change events
type EntitlementEventHandler func(ctx context.Context, event EntitlementChangeEvent)

// EntitlementEventPublisher publishes entitlement change events
type EntitlementEventPublisher interface {
	PublishChange(ctx context.Context, subjectKey string, changeType entitlement.NotificationType) error
}

// EntitlementEventSubscriber subscribes to entitlement change events
type EntitlementEventSubscriber interface {
	Subscribe(ctx context.Context, handler EntitlementEventHandler) error
}

// RedisEntitlementEventBus implements both publisher and subscriber over
// Redis Pub/Sub.
type RedisEntitlementEventBus struct {
	client *redis.Client
	logger logger.Interface
}

// NewRedisEntitlementEventBus creates a Redis-based entitlement event bus
func NewRedisEntitlementEventBus(client *redis.Client, log logger.Interface) *RedisEntitlementEventBus {
	return &RedisEntitlementEventBus{
		client: client,
		logger: log,
	}
}

// PublishChange publishes an entitlement change event for a subject
func (b *RedisEntitlementEventBus) PublishChange(ctx context.Context, subjectKey string, changeType entitlement.NotificationType) error {
	event := EntitlementChangeEvent{
		SubjectKey: subjectKey,
		ChangeType: changeType,
		Timestamp:  time.Now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, entitlementChangeChannel, data).Err(); err != nil {
		b.logger.Errorw("failed to publish entitlement change event",
			"subject_key", subjectKey,
			"change_type", changeType,
			"error", err,
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("entitlement change event published",
		"subject_key", subjectKey,
		"change_type", changeType,
	)
	return nil
}

// Subscribe subscribes to entitlement change events and calls the handler for
// each event. Blocks until the context is cancelled.
func (b *RedisEntitlementEventBus) Subscribe(ctx context.Context, handler EntitlementEventHandler) error {
	pubsub := b.client.Subscribe(ctx, entitlementChangeChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	b.logger.Infow("subscribed to entitlement change events",
		"channel", entitlementChangeChannel,
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("entitlement event subscriber stopped", "reason", ctx.Err())
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warnw("entitlement event channel closed")
				return nil
			}

			var event EntitlementChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal entitlement event",
					"payload", msg.Payload,
					"error", err,
				)
				continue
			}

			// Handled in a background goroutine so a slow handler cannot
			// block the event loop; handler lifetime is decoupled from the
			// subscriber's context.
			go handler(context.Background(), event)
		}
	}
}
