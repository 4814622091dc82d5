package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quillsync/internal/observability"
)

// eventBuffer absorbs bursts while the consumer drains; beyond it
// payloads are dropped so a stalled consumer cannot wedge its relay.
const eventBuffer = 64

// Redis implements Transport on Redis pub/sub. Note that Redis delivers a
// published message to every subscriber of the channel including the
// publisher, so consumers see their own sends echoed back.
type Redis struct {
	client *redis.Client
	logger observability.Logger
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client, logger observability.Logger) *Redis {
	return &Redis{client: client, logger: observability.OrDefault(logger)}
}

func (t *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := t.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so a Send immediately after
	// Subscribe cannot outrun it.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{
		client:  t.client,
		channel: channel,
		pubsub:  pubsub,
		events:  make(chan []byte, eventBuffer),
	}
	go sub.relay(t.logger)
	return sub, nil
}

type redisSubscription struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	events  chan []byte
}

// relay forwards messages from the Redis subscription to the events
// channel until the subscription closes.
func (s *redisSubscription) relay(logger observability.Logger) {
	for msg := range s.pubsub.Channel() {
		select {
		case s.events <- []byte(msg.Payload):
		default:
			logger.Warn("redis subscriber lagging, payload dropped", map[string]interface{}{
				"channel": s.channel,
			})
		}
	}
	logger.Debug("redis relay stopped", map[string]interface{}{"channel": s.channel})
	close(s.events)
}

func (s *redisSubscription) Send(ctx context.Context, payload []byte) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.channel, err)
	}
	return nil
}

func (s *redisSubscription) Events() <-chan []byte {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
