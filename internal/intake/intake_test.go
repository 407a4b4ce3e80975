package intake

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/ordering"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/abdusco/linkpage/internal/shard"
	"github.com/alicebob/miniredis/v2"
	"github.com/doug-martin/goqu/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *db.DB
	store  kv.Store
	queue  *Queue
	worker *Worker
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisStore(client)

	allocator := ordering.NewAllocator(database, store, ordering.Config{})
	return fixture{
		db:     database,
		store:  store,
		queue:  NewQueue(store, shard.NewRouter(4)),
		worker: NewWorker(database, store, allocator, Config{BatchSize: 10}),
	}
}

func TestEnqueueRejectsInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		payload internal.IntakePayload
		want    error
	}{
		{"unknown kind", internal.IntakePayload{Kind: "poll", UserID: "u"}, internal.ErrUnknownKind},
		{"missing owner", internal.IntakePayload{Kind: internal.EntityText, Body: "x"}, internal.ErrInvalidPayload},
		{"link without url", internal.IntakePayload{Kind: internal.EntityLink, UserID: "u"}, internal.ErrInvalidPayload},
		{"link with ftp url", internal.IntakePayload{Kind: internal.EntityLink, UserID: "u", URL: "ftp://x.y"}, internal.ErrInvalidPayload},
		{"event without start", internal.IntakePayload{Kind: internal.EntityEvent, UserID: "u", Title: "x"}, internal.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.queue.Enqueue(ctx, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	pending, err := f.store.SMembers(ctx, PendingKey)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueueRoutesToShardQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ticket, err := f.queue.Enqueue(ctx, internal.IntakePayload{Kind: internal.EntityText, UserID: "ab", Body: "hello"})
	require.NoError(t, err)

	// 'a' + 'b' = 195, 195 % 4 = 3
	assert.Equal(t, "intake:text:ab:3", ticket.Queue)
	assert.NotEmpty(t, ticket.SubmissionID)

	n, err := f.store.Len(ctx, ticket.Queue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := f.store.SMembers(ctx, PendingKey)
	require.NoError(t, err)
	assert.Equal(t, []string{ticket.Queue}, pending)
}

// tickingClock returns a clock that advances by one second per call.
func tickingClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func orderOf(t *testing.T, f fixture, userID string) []string {
	t.Helper()
	refs, err := repo.NewEntitiesRepo(f.db).ListOrder(context.Background(), userID)
	require.NoError(t, err)
	return lo.Map(refs, func(r repo.EntityRef, _ int) string {
		return fmt.Sprintf("%s:%d", r.Kind, r.OrderKey)
	})
}

func TestDrainMaterializesAtTop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.now = tickingClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	startsAt := time.Date(2026, 12, 1, 20, 0, 0, 0, time.UTC)

	for _, p := range []internal.IntakePayload{
		{Kind: internal.EntityLink, UserID: "u1", URL: "https://example.com", Slug: "mine"},
		{Kind: internal.EntityText, UserID: "u1", Body: "first"},
		{Kind: internal.EntityText, UserID: "u1", Body: "second"},
		{Kind: internal.EntityEvent, UserID: "u1", Title: "Launch", StartsAt: &startsAt},
	} {
		_, err := f.queue.Enqueue(ctx, p)
		require.NoError(t, err)
	}

	res, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 3, res.Queues)

	// Newest on top: the event was submitted last.
	assert.Equal(t, []string{"event:-4", "text:-3", "text:-2", "link:-1"}, orderOf(t, f, "u1"))

	var bodies []string
	err = f.db.Goqu().From("texts").Select("body").Where(goqu.Ex{"user_id": "u1"}).Order(goqu.C("order_key").Asc()).ScanValsContext(ctx, &bodies)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, bodies)

	pending, err := f.store.SMembers(ctx, PendingKey)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
}

func TestDrainFollowsSubmissionOrderAcrossKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.now = tickingClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	startsAt := time.Date(2026, 12, 1, 20, 0, 0, 0, time.UTC)

	for _, p := range []internal.IntakePayload{
		{Kind: internal.EntityLink, UserID: "u5", URL: "https://example.com"},
		{Kind: internal.EntityText, UserID: "u5", Body: "hello"},
		{Kind: internal.EntityEvent, UserID: "u5", Title: "Launch", StartsAt: &startsAt},
	} {
		_, err := f.queue.Enqueue(ctx, p)
		require.NoError(t, err)
	}

	res, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)

	assert.Equal(t, []string{"event:-3", "text:-2", "link:-1"}, orderOf(t, f, "u5"))
}

func TestDrainBreaksTimestampTiesBySubmissionID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	f.queue.now = func() time.Time { return at }

	_, err := f.queue.Enqueue(ctx, internal.IntakePayload{Kind: internal.EntityText, UserID: "u6", Body: "later", SubmissionID: "b"})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, internal.IntakePayload{Kind: internal.EntitySection, UserID: "u6", Title: "earlier", SubmissionID: "a"})
	require.NoError(t, err)

	_, err = f.worker.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"text:-2", "section:-1"}, orderOf(t, f, "u6"))
}

func TestDrainWaitsBehindFullBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.now = tickingClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	f.worker.cfg.BatchSize = 2

	for _, p := range []internal.IntakePayload{
		{Kind: internal.EntityText, UserID: "u7", Body: "one"},
		{Kind: internal.EntityText, UserID: "u7", Body: "two"},
		{Kind: internal.EntityText, UserID: "u7", Body: "three"},
		{Kind: internal.EntitySection, UserID: "u7", Title: "last"},
	} {
		_, err := f.queue.Enqueue(ctx, p)
		require.NoError(t, err)
	}

	first, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Created)

	assert.Equal(t, []string{"section:-4", "text:-3", "text:-2", "text:-1"}, orderOf(t, f, "u7"))
}

func TestParseQueueKey(t *testing.T) {
	tests := []struct {
		key  string
		kind internal.EntityKind
		user string
		ok   bool
	}{
		{"intake:text:ab:3", internal.EntityText, "ab", true},
		{"intake:link:team:blue:0", internal.EntityLink, "team:blue", true},
		{"intake:poll:ab:3", "", "", false},
		{"intake:text::3", "", "", false},
		{"intake:text:ab:x", "", "", false},
		{"other:text:ab:3", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, user, ok := parseQueueKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.kind, kind)
				assert.Equal(t, tt.user, user)
			}
		})
	}
}

func TestDrainIgnoresReplayedSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := internal.IntakePayload{Kind: internal.EntitySection, UserID: "u2", Title: "Merch", SubmissionID: "sub-1"}

	_, err := f.queue.Enqueue(ctx, p)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, p)
	require.NoError(t, err)

	res, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Duplicates)

	refs, err := repo.NewEntitiesRepo(f.db).ListOrder(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestDrainSkipsMalformedAndSanitizesText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ticket, err := f.queue.Enqueue(ctx, internal.IntakePayload{
		Kind:   internal.EntityText,
		UserID: "u3",
		Body:   `<script>alert(1)</script><b>bold</b>`,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Push(ctx, ticket.Queue, []byte("not json"), []byte(`{"kind":"text","userId":"u3","body":"<script></script>"}`)))

	res, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Skipped)

	var body string
	_, err = f.db.Goqu().From("texts").Select("body").Where(goqu.Ex{"user_id": "u3"}).ScanValContext(ctx, &body)
	require.NoError(t, err)
	assert.Equal(t, "<b>bold</b>", body)

	n, err := f.store.Len(ctx, ticket.Queue)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainSkipsLockedUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ticket, err := f.queue.Enqueue(ctx, internal.IntakePayload{Kind: internal.EntityText, UserID: "u4", Body: "x"})
	require.NoError(t, err)

	held := kv.NewMutex(f.store, LockKey("u4"), time.Minute)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Locked)
	assert.Zero(t, res.Created)

	n, err := f.store.Len(ctx, ticket.Queue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
