package realtime

import (
	"context"
	"fmt"

	"github.com/Daskott/guardian/shared"
	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes through redis pub/sub so every server
// instance sees every message.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(ctx context.Context, cfg shared.RedisConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// wait for the subscription to be confirmed, so publishes right
	// after Subscribe returns are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, subscriberBuffer)
	sub := newSubscription(messages, pubsub.Close)

	go func() {
		defer close(messages)

		redisMessages := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-redisMessages:
				if !ok {
					return
				}

				select {
				case messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-sub.done:
					return
				}
			}
		}
	}()
	sub.closeOnDone(ctx)

	return sub, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
