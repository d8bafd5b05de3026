package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "atlas:dedupe:"

// RedisStore claims dedupe keys with SET NX so all gateway instances share
// one view of seen deliveries. Redis expiry enforces the window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisStore{client: redis.NewClient(options)}, nil
}

func (s *RedisStore) AdmitOnce(ctx context.Context, triggerID, key string, windowSeconds int) (bool, error) {
	claim := redisKeyPrefix + triggerID + ":" + key
	window := time.Duration(windowSeconds) * time.Second

	claimed, err := s.client.SetNX(ctx, claim, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key: %w", err)
	}

	return claimed, nil
}

func (s *RedisStore) Release(ctx context.Context, triggerID, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+triggerID+":"+key).Err(); err != nil {
		return fmt.Errorf("failed to release dedupe key: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
