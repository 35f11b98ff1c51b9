package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisChannel implements Channel with Redis pub/sub. The tenant is part of
// the channel name, so Redis only delivers a tenant's own records.
type RedisChannel struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisChannel creates a new Redis realtime channel
func NewRedisChannel(host string, port int, password string, db int, prefix string, logger *zap.Logger) (*RedisChannel, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisChannelWithClient(client, prefix, logger), nil
}

// NewRedisChannelWithClient wraps an existing client
func NewRedisChannelWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Publish broadcasts rec on its (tenant, key) channel
func (c *RedisChannel) Publish(ctx context.Context, rec *model.RemoteRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return c.client.Publish(ctx, Topic(c.prefix, rec.TenantID, rec.Key), data).Err()
}

// Subscribe listens on the (tenantID, key) channel until closed or ctx ends
func (c *RedisChannel) Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error) {
	topic := Topic(c.prefix, tenantID, key)
	pubsub := c.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}

	go func() {
		for msg := range pubsub.Channel() {
			var rec model.RemoteRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				c.logger.Warn("Dropping malformed realtime message",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			handler(&rec)
		}
		c.logger.Debug("Realtime channel closed", zap.String("channel", topic))
	}()
	closeOnDone(ctx, sub.done, sub)

	return sub, nil
}

// Ping checks the Redis connection
func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisChannel) Close() error {
	return c.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}
