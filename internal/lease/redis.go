// Package lease grants short exclusive leases through Redis so that only one
// replica runs a periodic job at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// RedisLease implements SET NX PX leases.
type RedisLease struct {
	rdb   redis.Cmdable
	owner string
}

// NewRedisLease returns a lease bound to rdb.  An empty owner gets a random
// token, unique to this process.
func NewRedisLease(rdb redis.Cmdable, owner string) *RedisLease {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &RedisLease{rdb: rdb, owner: owner}
}

// Acquire takes key for ttl.  It reports false when another owner holds it.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// Release gives key back if this owner still holds it.
func (l *RedisLease) Release(ctx context.Context, key string) error {
	if err := l.rdb.Eval(ctx, releaseScript, []string{key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
