package partition

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "partition.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPartitionNaming(t *testing.T) {
	p := For(TableClicks, time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC))

	assert.Equal(t, "click_events_y2026m10", p.Name())
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), p.RangeStart)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), p.RangeEnd)
	assert.Equal(t, "2027-01", MonthKey(NextMonth(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))))
}

func TestEnsureMonthlyCreatesCurrentAndNext(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	m := NewManager(database, kv.NewSQLStore(database), Config{})
	m.now = fixedClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))

	res, err := m.EnsureMonthly(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"click_events_y2026m10",
		"view_events_y2026m10",
		"click_events_y2026m11",
		"view_events_y2026m11",
	}, res.Created)

	again, err := m.EnsureMonthly(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.False(t, again.Contended)
}

func TestConcurrentEnsureCreatesEachPartitionOnce(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	store := kv.NewSQLStore(database)
	now := time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)

	const callers = 8
	results := make([]Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewManager(database, store, Config{LockWait: 10 * time.Second})
			m.now = fixedClock(now)
			results[i], errs[i] = m.EnsureMonthly(ctx)
		}()
	}
	wg.Wait()

	created := map[string]int{}
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Empty(t, results[i].Missing)
		for _, name := range results[i].Created {
			created[name]++
		}
	}

	assert.Equal(t, map[string]int{
		"click_events_y2026m10": 1,
		"view_events_y2026m10":  1,
		"click_events_y2026m11": 1,
		"view_events_y2026m11":  1,
	}, created)

	dialect := NewDialect(database)
	for _, name := range []string{TableClicks, TableViews} {
		exists, err := dialect.Exists(ctx, For(name, now))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestLockTTLStopsAtRollover(t *testing.T) {
	m := &Manager{cfg: Config{LockTTL: 30 * time.Second}.withDefaults()}

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"mid month", time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), 30 * time.Second},
		{"ten seconds before rollover", time.Date(2026, 10, 31, 23, 59, 50, 0, time.UTC), 10 * time.Second},
		{"floor", time.Date(2026, 10, 31, 23, 59, 59, 900_000_000, time.UTC), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.lockTTL(tt.now))
		})
	}
}

func TestMonthlyTableRejectsOutOfRangeRows(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	m := NewManager(database, kv.NewSQLStore(database), Config{})
	oct := time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC)

	_, err := m.EnsureMonths(ctx, oct)
	require.NoError(t, err)

	events := repo.NewEventsRepo(database)
	target := m.Target(TableClicks, oct)
	require.Equal(t, "click_events_y2026m10", target)

	err = events.InsertBatch(ctx, database.Goqu(), target, []internal.Event{{SubjectID: "1", OccurredAt: oct}})
	require.NoError(t, err)

	err = events.InsertBatch(ctx, database.Goqu(), target, []internal.Event{{SubjectID: "1", OccurredAt: oct.AddDate(0, 1, 0)}})
	assert.Error(t, err)

	n, err := events.Count(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
