package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const usageKeyPrefix = "quota:used:"

// RedisStore persists usage counters in redis. INCR is atomic server-side,
// so counts stay monotonic across process restarts and replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Used implements Store. A missing key reads as zero.
func (s *RedisStore) Used(ctx context.Context, clientID string) (int, error) {
	val, err := s.client.Get(ctx, usageKeyPrefix+clientID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, clientID string) (int, error) {
	val, err := s.client.Incr(ctx, usageKeyPrefix+clientID).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return int(val), nil
}

// Reset clears a client's counter. Used by the quotactl admin command, never
// by the serving path.
func (s *RedisStore) Reset(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, usageKeyPrefix+clientID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
