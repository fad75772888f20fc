// Package lock implements a Redis-backed distributed mutual-exclusion
// primitive with TTL auto-expiry and owner-token verification.
//
// Acquisition uses SET NX PX (a single atomic create-if-absent); release and
// extend run Lua scripts that compare the stored value against the owner
// token before mutating, so a worker whose lock expired can never destroy a
// lock re-acquired by someone else.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dlock:"
const releaseChannelPrefix = "dlock:released:"

// releaseScript deletes the key only if the stored value matches our token.
// A plain GET-then-DEL would let worker A delete worker B's lock after A's
// own lock expired and B re-acquired it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript bumps the TTL only if we are still the owner.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DistributedLock is a single-holder lock on a named resource. Instances are
// not safe for concurrent use; create one per critical section.
type DistributedLock struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	token    string
	acquired bool
}

// New creates a lock for the given resource name with the given TTL
func New(client *redis.Client, resource string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    keyPrefix + resource,
		ttl:    ttl,
	}
}

// Key returns the full Redis key of the lock
func (l *DistributedLock) Key() string {
	return l.key
}

// Acquired reports whether this instance currently believes it holds the lock
func (l *DistributedLock) Acquired() bool {
	return l.acquired
}

func (l *DistributedLock) releaseChannel() string {
	return releaseChannelPrefix + l.key
}

func (l *DistributedLock) tryAcquire(ctx context.Context, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
		l.acquired = true
	}
	return ok, nil
}

// Acquire attempts to take the lock, waiting up to timeout. Waiters are woken
// by a release notification published on a channel scoped to the lock key,
// with polling at retryInterval as fallback when notifications are
// unavailable. Returns false (not an error) when the deadline passes.
func (l *DistributedLock) Acquire(ctx context.Context, timeout, retryInterval time.Duration) (bool, error) {
	if retryInterval <= 0 {
		retryInterval = 300 * time.Millisecond
	}

	token := uuid.NewString()

	ok, err := l.tryAcquire(ctx, token)
	if err != nil || ok {
		return ok, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Subscribe to the release channel so a release wakes us immediately.
	// If the subscription cannot be established we degrade to pure polling.
	var wake <-chan *redis.Message
	pubsub := l.client.Subscribe(ctx, l.releaseChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
	} else {
		defer func() { _ = pubsub.Close() }()
		wake = pubsub.Channel()
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		// Re-check first: a release may have happened between the failed
		// initial attempt and the subscription taking effect.
		ok, err := l.tryAcquire(ctx, token)
		if err != nil || ok {
			return ok, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Release frees the lock if this instance still owns it and notifies waiters.
// Returns false when the lock expired and was re-acquired by another holder.
func (l *DistributedLock) Release(ctx context.Context) (bool, error) {
	if l.token == "" {
		return false, nil
	}

	token := l.token
	l.token = ""
	l.acquired = false

	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return false, err
	}
	if res != 1 {
		return false, nil
	}

	// Wake waiters so they retry immediately instead of on the next poll.
	// Best effort: waiters fall back to polling anyway.
	_ = l.client.Publish(ctx, l.releaseChannel(), token).Err()
	return true, nil
}

// Extend resets the lock TTL to additional if this instance still owns it.
// Used by long critical sections to avoid premature expiry.
func (l *DistributedLock) Extend(ctx context.Context, additional time.Duration) (bool, error) {
	if l.token == "" {
		return false, nil
	}

	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, additional.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// WithLock runs fn under the lock. The lock is released on every exit path if
// and only if this call acquired it. The first return value reports whether
// the lock was acquired; fn is not run when it is false.
func (l *DistributedLock) WithLock(ctx context.Context, timeout, retryInterval time.Duration, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := l.Acquire(ctx, timeout, retryInterval)
	if err != nil || !acquired {
		return acquired, err
	}
	defer func() {
		// Release must run even when the caller's context is already done
		_, _ = l.Release(context.WithoutCancel(ctx))
	}()
	return true, fn(ctx)
}
