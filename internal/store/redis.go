package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore holds short-lived counters. Nothing the relay keeps in Redis is durable.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// aiSendKey returns the key for a user's AI send counter in the current window.
func aiSendKey(userID string, window time.Duration, now time.Time) string {
	bucket := now.UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:ai:%s:%d", userID, bucket)
}

// AllowAISend counts one AI-directed send for userID and reports whether it is within limit
// for the fixed window containing now.
func (s *RedisStore) AllowAISend(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	key := aiSendKey(userID, window, time.Now())

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
