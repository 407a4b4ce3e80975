// Package counter keeps latency-hiding click and view counters. The durable
// totals remain the system of record; a counter may run ahead of them.
package counter

import (
	"context"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/kv"
)

type Cache struct {
	store kv.Store
}

func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

func Key(kind internal.EventKind, subjectID string) string {
	return "counter:" + string(kind) + ":" + subjectID
}

// Ensure seeds the counter with baseline unless it already exists, which
// reconciles a counter that was evicted since it was last observed.
func (c *Cache) Ensure(ctx context.Context, kind internal.EventKind, subjectID string, baseline int64) (bool, error) {
	return c.store.EnsureCounter(ctx, Key(kind, subjectID), baseline)
}

// Increment atomically adds one and returns the new value.
func (c *Cache) Increment(ctx context.Context, kind internal.EventKind, subjectID string) (int64, error) {
	return c.store.Incr(ctx, Key(kind, subjectID))
}

func (c *Cache) Value(ctx context.Context, kind internal.EventKind, subjectID string) (int64, bool, error) {
	return c.store.Counter(ctx, Key(kind, subjectID))
}
