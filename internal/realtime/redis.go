package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "changes:"

// RedisBroker publishes and subscribes to change events on a Redis pub/sub
// channel per scope (household).
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis at the given URL.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerWithClient wraps an existing Redis client.
func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func channelFor(scope string) string {
	return channelPrefix + scope
}

// Publish emits one change event to the scope's channel.
func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(event.Scope), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe delivers change events for one scope until ctx is cancelled.
// Malformed payloads are logged and skipped; they never close the stream.
// The channel may deliver a superset of relevant rows, so consumers still
// filter by scope and collection.
func (b *RedisBroker) Subscribe(ctx context.Context, scope string) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, channelFor(scope))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channelFor(scope), err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("realtime: dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				if err := event.validate(); err != nil {
					log.Printf("realtime: dropping invalid event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Ping checks if Redis is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
