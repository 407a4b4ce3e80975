package aggregate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsumer(t *testing.T) (*Consumer, kv.Store, *repo.AggregatesRepo) {
	t.Helper()

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "aggregate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := kv.NewSQLStore(database)
	return NewConsumer(database, store, Config{BatchSize: 100}), store, repo.NewAggregatesRepo(database)
}

func TestConsumeCountsPerMonth(t *testing.T) {
	ctx := context.Background()
	c, store, aggregates := newConsumer(t)
	events := eventlog.New(store)

	oct := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	nov := time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.AppendClick(ctx, internal.Event{SubjectID: "1", Referrer: "https://www.twitter.com/home", Device: "mobile", OccurredAt: oct}))
	require.NoError(t, events.AppendClick(ctx, internal.Event{SubjectID: "1", Referrer: "twitter.com", Device: "Mobile", OccurredAt: oct}))
	require.NoError(t, events.AppendView(ctx, internal.Event{SubjectID: "u", OccurredAt: oct}))
	require.NoError(t, events.AppendView(ctx, internal.Event{SubjectID: "u", Device: "desktop", OccurredAt: nov}))
	_, err := store.XAdd(ctx, eventlog.Stream, []byte("garbage"))
	require.NoError(t, err)

	res, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.Idle)

	referrers, err := aggregates.Counts(ctx, DimensionReferrer, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"twitter.com": 2, "direct": 1}, referrers)

	devices, err := aggregates.Counts(ctx, DimensionDevice, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"mobile": 2, "unknown": 1}, devices)

	devices, err = aggregates.Counts(ctx, DimensionDevice, "2026-11")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"desktop": 1}, devices)

	cursor, err := aggregates.Cursor(ctx, eventlog.Stream, kv.StreamOrigin)
	require.NoError(t, err)
	assert.Equal(t, res.Cursor, cursor)
}

func TestConsumeRerunIsNoop(t *testing.T) {
	ctx := context.Background()
	c, store, aggregates := newConsumer(t)
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, eventlog.New(store).AppendClick(ctx, internal.Event{SubjectID: "1", Device: "tablet", OccurredAt: at}))

	first, err := c.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Processed)

	second, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.True(t, second.Idle)
	assert.Equal(t, first.Cursor, second.Cursor)

	devices, err := aggregates.Counts(ctx, DimensionDevice, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"tablet": 1}, devices)
}

func TestConsumeSkipsWhileLocked(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newConsumer(t)

	held := kv.NewMutex(store, LockKey(eventlog.Stream), time.Minute)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.True(t, res.Locked)
}

func TestNormalizeReferrer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "direct"},
		{"   ", "direct"},
		{"https://www.Instagram.com/p/1", "instagram.com"},
		{"t.co", "t.co"},
		{"http://news.ycombinator.com:8080/", "news.ycombinator.com"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeReferrer(tt.in))
		})
	}
}
