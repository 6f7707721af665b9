package tokenbudget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store for sharing quota state across multiple
// engine processes. Each user's usage is an INCRBY-accumulated counter under
// one key per user (expired after ttl when ttl > 0), so concurrent Consume
// calls for the same user serialize through Redis rather than a local mutex.
type RedisStore struct {
	client       *redis.Client
	defaultQuota int64
	ttl          time.Duration
}

// NewRedisStore dials addr and pings it to validate the connection before
// returning, matching the fail-fast construction style used elsewhere for
// optional external backends in this codebase.
func NewRedisStore(addr string, defaultQuota int64, ttl time.Duration) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: c, defaultQuota: defaultQuota, ttl: ttl}, nil
}

func (s *RedisStore) usageKey(userID string) string {
	return "cogrouter:tokenbudget:" + userID
}

func (s *RedisStore) Get(ctx context.Context, userID string) (UserBudget, error) {
	used, err := s.client.Get(ctx, s.usageKey(userID)).Int64()
	if err != nil && err != redis.Nil {
		return UserBudget{}, err
	}
	return UserBudget{UserID: userID, MonthlyQuota: s.defaultQuota, Used: used}, nil
}

// Consume is Lua-free: it applies the INCRBY first and, if the new total
// exceeds the quota, rolls the charge back with DECRBY and returns
// ErrQuotaExceeded. No scripting dependency is needed for a single counter.
func (s *RedisStore) Consume(ctx context.Context, userID string, tokens int64) (UserBudget, error) {
	key := s.usageKey(userID)
	newVal, err := s.client.IncrBy(ctx, key, tokens).Result()
	if err != nil {
		return UserBudget{}, err
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	if newVal > s.defaultQuota {
		// Roll back the charge; the request is rejected outright.
		s.client.DecrBy(ctx, key, tokens)
		used, _ := strconv.ParseInt(strconv.FormatInt(newVal-tokens, 10), 10, 64)
		return UserBudget{UserID: userID, MonthlyQuota: s.defaultQuota, Used: used}, ErrQuotaExceeded
	}
	return UserBudget{UserID: userID, MonthlyQuota: s.defaultQuota, Used: newVal}, nil
}

func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.usageKey(userID)).Err()
}

// Close closes the underlying Redis client for graceful shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
