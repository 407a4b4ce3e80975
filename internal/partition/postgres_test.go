package partition

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPostgres connects to the database named by LINKPAGE_TEST_POSTGRES_URL
// and skips the test when it is unset.
func openPostgres(t *testing.T) *db.DB {
	t.Helper()

	dsn := os.Getenv("LINKPAGE_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("LINKPAGE_TEST_POSTGRES_URL not set")
	}
	database, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.True(t, database.IsPostgres())
	return database
}

func TestPostgresPartitionsRouteThroughParent(t *testing.T) {
	ctx := context.Background()
	database := openPostgres(t)
	m := NewManager(database, kv.NewSQLStore(database), Config{})
	month := time.Date(2031, 3, 14, 9, 0, 0, 0, time.UTC)

	res, err := m.EnsureMonths(ctx, month)
	require.NoError(t, err)
	assert.Empty(t, res.Missing)

	dialect := NewDialect(database)
	for _, table := range Tables {
		exists, err := dialect.Exists(ctx, For(table, month))
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	target := m.Target(TableClicks, month)
	assert.Equal(t, TableClicks, target)

	subject := uuid.NewString()
	t.Cleanup(func() {
		_, _ = database.Goqu().Delete(TableClicks).Where(goqu.Ex{"subject_id": subject}).Executor().ExecContext(context.Background())
	})

	events := repo.NewEventsRepo(database)
	err = events.InsertBatch(ctx, database.Goqu(), target, []internal.Event{{SubjectID: subject, Device: "desktop", OccurredAt: month}})
	require.NoError(t, err)

	n, err := database.Goqu().From(For(TableClicks, month).Name()).Where(goqu.Ex{"subject_id": subject}).CountContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// No partition covers this month, so the parent refuses the row.
	err = events.InsertBatch(ctx, database.Goqu(), target, []internal.Event{{SubjectID: subject, OccurredAt: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)}})
	assert.Error(t, err)
}
