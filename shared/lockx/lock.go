// Package lockx is a redis SET NX lease used to keep singleton loops (the
// outbox scanner) to one holder across replicas. Release is token-checked so
// an expired holder cannot free a successor's lease.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type Locker struct {
	client *redis.Client
}

func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Acquire takes the lease when free. ok=false without error means another
// holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("redis client not initialized")
	}
	if ttl <= 0 {
		return nil, false, errors.New("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token, TTL: ttl}, true, nil
}

func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil {
		return errors.New("redis client not initialized")
	}
	if lease == nil {
		return errors.New("lease is nil")
	}
	return l.client.Eval(ctx, releaseScript, []string{lease.Key}, lease.Token).Err()
}
