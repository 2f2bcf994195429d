package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"graphguard/backend/pkg/errors"
)

// Locker serializes concurrent identity resolution per dedup key. Acquire
// blocks until the reservation is held, the wait times out, or ctx is done.
// The returned release function must be called exactly once, after the
// commit-or-abort of the resolution attempt.
type Locker interface {
	Acquire(ctx context.Context, key DedupKey, timeout time.Duration) (release func(), err error)
}

// ============================================================================
// Local Locker
// ============================================================================

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// LocalLocker is an in-process lock table keyed by dedup key. Each key maps
// to a weight-1 semaphore; entries are reference counted and removed when
// the last holder or waiter releases, so the table stays bounded by the
// number of in-flight resolutions.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLocalLocker creates an empty lock table
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

// Acquire takes the per-key reservation with a bounded wait
func (l *LocalLocker) Acquire(ctx context.Context, key DedupKey, timeout time.Duration) (func(), error) {
	name := key.String()

	l.mu.Lock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.locks[name] = entry
	}
	entry.refs++
	l.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		l.unref(name)
		if ctx.Err() != nil {
			return nil, errors.NewContextCancelled("reservation acquire", ctx.Err())
		}
		return nil, errors.NewResolutionConflict(key.GroupID, name, timeout)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.unref(name)
		})
	}
	return release, nil
}

func (l *LocalLocker) unref(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[name]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, name)
	}
}

// ============================================================================
// Redis Locker
// ============================================================================

// Release only if we still own the reservation.
var redisUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements reservations across processes using SET NX with a
// TTL safety net. Contending acquirers poll with backoff until the bounded
// wait elapses. The TTL only matters if a holder dies without releasing; a
// live holder always releases explicitly.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisLocker creates a locker on an existing redis client
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		keyPrefix: "graphguard:dedup:",
	}
}

// Acquire takes the distributed per-key reservation with a bounded wait
func (l *RedisLocker) Acquire(ctx context.Context, key DedupKey, timeout time.Duration) (func(), error) {
	name := l.keyPrefix + key.String()
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)
	backoff := 5 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, errors.NewStoreUnavailable("reservation acquire", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, errors.NewResolutionConflict(key.GroupID, key.String(), timeout)
		}
		select {
		case <-ctx.Done():
			return nil, errors.NewContextCancelled("reservation acquire", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 80*time.Millisecond {
			backoff *= 2
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Detached context: release must proceed even if the caller's
			// request context is already cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = redisUnlock.Run(releaseCtx, l.client, []string{name}, token).Result()
		})
	}
	return release, nil
}
