package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerPending   = "pending"
	ledgerCommitted = "committed"
)

// RedisLedger is an EventLedger shared by every replica. Claims are SET NX
// leases holding "pending"; Commit overwrites them with "committed".
type RedisLedger struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLedger stores claims under prefix+key.
func NewRedisLedger(client redis.Cmdable, prefix string) *RedisLedger {
	if client == nil {
		panic("subscription: redis client is required")
	}
	if prefix == "" {
		prefix = "webhook:event:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, lease time.Duration) (ClaimState, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, ledgerPending, lease).Result()
	if err != nil {
		return 0, fmt.Errorf("claim event %q: %w", key, err)
	}
	if ok {
		return ClaimAcquired, nil
	}

	val, err := l.client.Get(ctx, l.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Lease expired between the two calls.
		return ClaimPending, nil
	case err != nil:
		return 0, fmt.Errorf("read event claim %q: %w", key, err)
	case val == ledgerCommitted:
		return ClaimCommitted, nil
	default:
		return ClaimPending, nil
	}
}

func (l *RedisLedger) Commit(ctx context.Context, key string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.prefix+key, ledgerCommitted, ttl).Err(); err != nil {
		return fmt.Errorf("commit event %q: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("release event %q: %w", key, err)
	}
	return nil
}
