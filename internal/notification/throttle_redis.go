// internal/notification/throttle_redis.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const throttleKeyPrefix = "notification:throttle"

// RedisThrottleStore keeps the daily counters in Redis. Keys expire on their
// own, so DeleteOlderThan has nothing to do.
type RedisThrottleStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisThrottleStore keeps counters for retentionDays (plus one day of slack)
func NewRedisThrottleStore(client *redis.Client, retentionDays int) *RedisThrottleStore {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &RedisThrottleStore{
		client: client,
		ttl:    time.Duration(retentionDays+1) * 24 * time.Hour,
	}
}

func (s *RedisThrottleStore) typeKey(userID int64, notificationType, day string) string {
	return fmt.Sprintf("%s:%d:%s:type:%s", throttleKeyPrefix, userID, day, notificationType)
}

func (s *RedisThrottleStore) totalKey(userID int64, day string) string {
	return fmt.Sprintf("%s:%d:%s:total", throttleKeyPrefix, userID, day)
}

// Counts reads both counters in one round trip
func (s *RedisThrottleStore) Counts(ctx context.Context, userID int64, notificationType, day string) (int, int, error) {
	values, err := s.client.MGet(ctx, s.typeKey(userID, notificationType, day), s.totalKey(userID, day)).Result()
	if err != nil {
		return 0, 0, err
	}

	typeCount, err := counterValue(values[0])
	if err != nil {
		return 0, 0, err
	}
	total, err := counterValue(values[1])
	if err != nil {
		return 0, 0, err
	}
	return typeCount, total, nil
}

// Increment bumps both counters and refreshes their expiry atomically
func (s *RedisThrottleStore) Increment(ctx context.Context, userID int64, notificationType, day string) error {
	typeKey := s.typeKey(userID, notificationType, day)
	totalKey := s.totalKey(userID, day)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, typeKey)
		pipe.Expire(ctx, typeKey, s.ttl)
		pipe.Incr(ctx, totalKey)
		pipe.Expire(ctx, totalKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment throttle counter: %w", err)
	}
	return nil
}

// DeleteOlderThan is a no-op; counters expire through their TTL
func (s *RedisThrottleStore) DeleteOlderThan(ctx context.Context, day string) (int64, error) {
	return 0, nil
}

func counterValue(v interface{}) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("corrupt throttle counter %q: %w", val, err)
		}
		return n, nil
	default:
		return 0, errors.New("unexpected throttle counter type")
	}
}
