// Package lock provides the optional per-funnel run lock.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Acquire when another holder owns the key.
var ErrNotHeld = errors.New("lock held elsewhere")

// Locker hands out exclusive leases on a key.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only when it still carries our token, so an
// expired lease never drops a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "drip:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.prefix + key}, token).Err()
}

// Nop always grants the lock; used when Redis is not configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string, string, time.Duration) error { return nil }
func (Nop) Release(context.Context, string, string) error                { return nil }
