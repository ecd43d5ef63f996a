package broadcast

import (
	"context"
	"fmt"

	"iot-telemetry-backend/config"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher publishes payloads on the Redis channel <prefix>:<topic>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a publisher backed by a new Redis client. The
// connection is not checked; call Ping for that.
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, prefix: cfg.ChannelPrefix}
}

// Channel returns the channel name used for topic.
func (p *RedisPublisher) Channel(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + ":" + topic
}

// Publish runs PUBLISH on the topic channel.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	channel := p.Channel(topic)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
