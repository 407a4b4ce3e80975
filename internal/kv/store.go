// Package kv provides the atomic key-value primitives the intake pipeline is
// built on: counters, FIFO lists, sets, append-only streams and TTL locks.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// StreamOrigin is the cursor value that precedes every stream entry.
const StreamOrigin = "0"

var ErrLockNotAcquired = errors.New("lock not acquired")

// Entry is one record of an append-only stream.
type Entry struct {
	ID      string
	Payload []byte
}

// Store is implemented by SQLStore and RedisStore. Every operation is atomic
// for a single key; callers never need client-side locking.
type Store interface {
	// EnsureCounter sets key to baseline only when key is absent and reports
	// whether it did.
	EnsureCounter(ctx context.Context, key string, baseline int64) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Counter(ctx context.Context, key string) (int64, bool, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error

	// Push appends to the tail of a list; PopN removes up to n entries from
	// its head.
	Push(ctx context.Context, key string, values ...[]byte) error
	PopN(ctx context.Context, key string, n int) ([][]byte, error)
	Peek(ctx context.Context, key string, n int) ([][]byte, error)
	Trim(ctx context.Context, key string, n int) error
	Len(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	XAdd(ctx context.Context, stream string, payload []byte) (string, error)
	// XRead returns up to count entries with ids strictly after after.
	XRead(ctx context.Context, stream, after string, count int) ([]Entry, error)

	Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Mutex is a TTL lock identified by a random token, so only the holder can
// release it.
type Mutex struct {
	store Store
	key   string
	token string
	ttl   time.Duration
}

func NewMutex(store Store, key string, ttl time.Duration) *Mutex {
	return &Mutex{
		store: store,
		key:   key,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

func (m *Mutex) Key() string {
	return m.key
}

func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	return m.store.Lock(ctx, m.key, m.token, m.ttl)
}

// Lock retries TryLock with backoff until it succeeds or wait elapses.
func (m *Mutex) Lock(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	backoff := 5 * time.Millisecond

	for {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 200*time.Millisecond)
	}
}

func (m *Mutex) Unlock(ctx context.Context) error {
	return m.store.Unlock(ctx, m.key, m.token)
}
