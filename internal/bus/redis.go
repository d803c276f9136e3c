package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport uses a Redis pub/sub channel as the shared channel.
type RedisTransport struct {
	client  *redis.Client
	sub     *redis.PubSub
	msgs    <-chan *redis.Message
	channel string

	closeOnce sync.Once
	closeErr  error
}

// NewRedisTransport connects to redisURL and subscribes to channel. It
// returns only once the subscription is confirmed, so nothing published
// after it returns is missed.
func NewRedisTransport(ctx context.Context, redisURL, channel string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrChannelUnavailable, err)
	}

	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		client.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrChannelUnavailable, channel, err)
	}

	return &RedisTransport{
		client:  client,
		sub:     sub,
		msgs:    sub.Channel(),
		channel: channel,
	}, nil
}

func (r *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisTransport) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-r.msgs:
		if !ok {
			return nil, ErrClosed
		}
		return []byte(m.Payload), nil
	}
}

func (r *RedisTransport) Close() error {
	r.closeOnce.Do(func() {
		_ = r.sub.Close()
		r.closeErr = r.client.Close()
	})
	return r.closeErr
}
