package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"assettrack/shared/cachex"
	"assettrack/shared/fault"
)

const redisKeyPrefix = "assettrack:dedup:"

// Redis is a window shared across collector replicas. SET NX with a TTL is
// the mark: the first writer wins, every later writer sees a duplicate.
type Redis struct {
	cache *cachex.Client
	ttl   time.Duration
}

func NewRedis(cache *cachex.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{cache: cache, ttl: ttl}
}

func (r *Redis) CheckAndMark(ctx context.Context, eventID uuid.UUID) (bool, error) {
	won, err := r.cache.SetNX(ctx, redisKeyPrefix+eventID.String(), 1, r.ttl)
	if err != nil {
		return false, fmt.Errorf("%w: dedup window: %v", fault.ErrQueueUnavailable, err)
	}
	return !won, nil
}

func (r *Redis) Forget(ctx context.Context, eventID uuid.UUID) error {
	if err := r.cache.Delete(ctx, redisKeyPrefix+eventID.String()); err != nil {
		return fmt.Errorf("%w: dedup window: %v", fault.ErrQueueUnavailable, err)
	}
	return nil
}
