package timers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript is the Lua compare-and-delete used to release a lock only
// if it is still held by the value that acquired it — protection against
// releasing a lock some other worker has since acquired after this one's
// TTL expired.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// lock is a short-lived distributed mutex backed by Redis SET NX, matching
// spec.md §4.1. Unlike the teacher's DistributedLock, acquisition never
// retries: the spec requires a non-blocking attempt that fails immediately
// when the key is already held.
type lock struct {
	redis  *redis.Client
	key    string
	value  string
	ttl    time.Duration
	logger *slog.Logger
	held   bool
}

// newLock builds a lock for the Redis key "lock:{compositeKey}".
func newLock(client *redis.Client, compositeKey string, ttl time.Duration, logger *slog.Logger) *lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &lock{
		redis:  client,
		key:    "lock:" + compositeKey,
		value:  generateLockValue(),
		ttl:    ttl,
		logger: logger,
	}
}

// newTimerLock builds the lock held briefly around SetTimer/RemoveTimer
// mutations.
func newTimerLock(client *redis.Client, compositeKey string, ttl time.Duration, logger *slog.Logger) *lock {
	return newLock(client, compositeKey, ttl, logger)
}

// newConsumeLock builds the lock held for the duration of a handler
// invocation during dispatch.
func newConsumeLock(client *redis.Client, compositeKey string, ttl time.Duration, logger *slog.Logger) *lock {
	return newLock(client, compositeKey, ttl, logger)
}

// generateLockValue returns a token unique to this acquisition attempt, so
// release can tell its own lock apart from one since re-acquired by
// somebody else after a TTL expiry.
func generateLockValue() string {
	return uuid.New().String()
}

// tryAcquire attempts a single, non-blocking SET NX. A false result means
// the key is already held by someone else — the caller's disposition is
// "skip and log", per spec.md §4.1, not "retry".
func (l *lock) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis-timers: acquire lock %q: %w", l.key, err)
	}
	l.held = ok
	return ok, nil
}

// release deletes the lock key if (and only if) it still holds this lock's
// value. Release is best-effort: a store error here is logged, never
// propagated, so a scoped teardown on handler failure or cancellation can
// always run to completion.
func (l *lock) release(ctx context.Context) {
	if !l.held {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if _, err := l.redis.Eval(releaseCtx, releaseScript, []string{l.key}, l.value).Result(); err != nil {
		l.logger.Warn("failed to release lock", "key", l.key, "error", err)
		return
	}
	l.held = false
}

// extend pushes the lock's TTL out via a Lua compare-and-EXPIRE, for
// handlers that legitimately run long (see SPEC_FULL.md §4.4). It is
// additive to spec.md's contract: nothing calls it unless a handler
// explicitly asks to.
func (l *lock) extend(ctx context.Context, newTTL time.Duration) error {
	if !l.held {
		return fmt.Errorf("redis-timers: cannot extend a lock that is not held")
	}

	script := `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`
	result, err := l.redis.Eval(ctx, script, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("redis-timers: extend lock %q: %w", l.key, err)
	}
	if n, _ := result.(int64); n != 1 {
		return fmt.Errorf("redis-timers: lock %q is no longer held", l.key)
	}
	l.ttl = newTTL
	return nil
}

// Extend implements ConsumeLockGuard, exposing extend to handler code
// through the Context passed into invoke.
func (l *lock) Extend(ctx context.Context, newTTL time.Duration) error {
	return l.extend(ctx, newTTL)
}
