package flush

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/partition"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *db.DB
	store  kv.Store
	log    *eventlog.Log
	worker *Worker
	parts  *partition.Manager
	events *repo.EventsRepo
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "flush.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := kv.NewSQLStore(database)
	parts := partition.NewManager(database, store, partition.Config{})
	return fixture{
		db:     database,
		store:  store,
		log:    eventlog.New(store),
		worker: NewWorker(database, store, parts, cfg),
		parts:  parts,
		events: repo.NewEventsRepo(database),
	}
}

func TestFlushDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	const good, malformed = 7, 3
	for range good {
		require.NoError(t, f.log.AppendClick(ctx, internal.Event{SubjectID: "42", Device: "mobile", OccurredAt: at}))
	}
	require.NoError(t, f.store.Push(ctx, eventlog.ListKey(internal.EventClick),
		[]byte("{not json"),
		[]byte(`{"subjectId":""}`),
		[]byte(`{"subjectId":"42"}`),
	))

	res, err := f.worker.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, good, res.Clicks)
	assert.Equal(t, malformed, res.Dropped)
	assert.False(t, res.Idle)

	n, err := f.events.Count(ctx, f.parts.Target(partition.TableClicks, at))
	require.NoError(t, err)
	assert.Equal(t, int64(good), n)

	total, err := f.events.Total(ctx, internal.EventClick, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(good), total)

	remaining, err := f.store.Len(ctx, eventlog.ListKey(internal.EventClick))
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestFlushSplitsBatchAcrossMonths(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	oct := time.Date(2026, 10, 31, 23, 59, 59, 0, time.UTC)
	nov := time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC)

	require.NoError(t, f.log.AppendView(ctx, internal.Event{SubjectID: "u1", OccurredAt: oct}))
	require.NoError(t, f.log.AppendView(ctx, internal.Event{SubjectID: "u1", OccurredAt: nov}))
	require.NoError(t, f.log.AppendView(ctx, internal.Event{SubjectID: "u2", OccurredAt: nov}))

	res, err := f.worker.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Views)

	octRows, err := f.events.Count(ctx, f.parts.Target(partition.TableViews, oct))
	require.NoError(t, err)
	novRows, err := f.events.Count(ctx, f.parts.Target(partition.TableViews, nov))
	require.NoError(t, err)
	assert.Equal(t, int64(1), octRows)
	assert.Equal(t, int64(2), novRows)
}

func TestFlushRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 3})
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	for range 5 {
		require.NoError(t, f.log.AppendClick(ctx, internal.Event{SubjectID: "1", OccurredAt: at}))
	}

	res, err := f.worker.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Clicks)

	remaining, err := f.store.Len(ctx, eventlog.ListKey(internal.EventClick))
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	res, err = f.worker.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Clicks)
}

func TestFlushIdle(t *testing.T) {
	f := newFixture(t, Config{IdleBackoff: 45 * time.Second})

	res, err := f.worker.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Idle)
	assert.Equal(t, 45*time.Second, res.RetryAfter)
	assert.Equal(t, internal.DeliveryAtMostOnce, Delivery)
}
