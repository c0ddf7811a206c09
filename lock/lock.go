// Package lock serializes provisioning of the same tenant across runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "arcweb:provision:lock:"

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker hands out per-tenant locks.
type Locker interface {
	Acquire(ctx context.Context, tenant string) (Release, error)
}

// HeldError is returned when another run holds the tenant's lock.
type HeldError struct {
	Tenant string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("tenant %s is being provisioned by another run", e.Tenant)
}

// Nop never blocks. It is used when no Redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a token-checked release.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

// NewRedisLocker returns a locker whose locks expire after ttl.
func NewRedisLocker(redisClient *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		redis: redisClient,
		ttl:   ttl,
		log:   slog.Default().With("component", "lock"),
	}
}

// Key returns the Redis key guarding tenant.
func Key(tenant string) string {
	return keyPrefix + tenant
}

// Acquire takes the tenant's lock or returns *HeldError.
func (l *RedisLocker) Acquire(ctx context.Context, tenant string) (Release, error) {
	if l.redis == nil {
		return nil, errors.New("redis is not configured")
	}

	key := Key(tenant)
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, &HeldError{Tenant: tenant}
	}
	l.log.Debug("lock acquired", "tenant", tenant, "ttl", l.ttl)

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.redis, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			l.log.Warn("lock expired before release", "tenant", tenant)
		}
		return nil
	}, nil
}
