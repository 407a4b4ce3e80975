package kv

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/samber/lo"
)

type listRow struct {
	ID      int64  `db:"id"`
	Payload string `db:"payload"`
}

type streamRow struct {
	ID      int64  `db:"id"`
	Payload string `db:"payload"`
}

// SQLStore keeps the key-value primitives in relational tables so a single
// database file is enough to run the whole service.
type SQLStore struct {
	db *db.DB
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) EnsureCounter(ctx context.Context, key string, baseline int64) (bool, error) {
	query := s.db.Goqu().Insert("kv_counters").
		Rows(goqu.Record{"key": key, "value": baseline}).
		OnConflict(goqu.DoNothing())

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("ensure counter %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Incr(ctx context.Context, key string) (int64, error) {
	query := s.db.Goqu().Insert("kv_counters").
		Rows(goqu.Record{"key": key, "value": 1}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"value": goqu.L("? + 1", goqu.I("kv_counters.value")),
		})).
		Returning("value")

	var value int64
	if _, err := query.Executor().ScanValContext(ctx, &value); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Counter(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	found, err := s.db.Goqu().From("kv_counters").
		Select("value").
		Where(goqu.C("key").Eq(key)).
		ScanValContext(ctx, &value)
	if err != nil {
		return 0, false, fmt.Errorf("get counter %s: %w", key, err)
	}
	return value, found, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	found, err := s.db.Goqu().From("kv_strings").
		Select("value").
		Where(goqu.C("key").Eq(key)).
		ScanValContext(ctx, &value)
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, found, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	query := s.db.Goqu().Insert("kv_strings").
		Rows(goqu.Record{"key": key, "value": value}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{"value": goqu.L("excluded.value")}))

	if _, err := query.Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Del removes keys of any type.
func (s *SQLStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.Goqu().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	return tx.Wrap(func() error {
		for _, table := range []string{"kv_counters", "kv_strings", "kv_lists", "kv_sets"} {
			if _, err := tx.Delete(table).Where(goqu.C("key").In(keys)).Executor().ExecContext(ctx); err != nil {
				return fmt.Errorf("del from %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Push(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}

	rows := lo.Map(values, func(v []byte, _ int) any {
		return goqu.Record{"key": key, "payload": string(v)}
	})
	if _, err := s.db.Goqu().Insert("kv_lists").Rows(rows...).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) headIDs(key string, n int) *goqu.SelectDataset {
	return s.db.Goqu().From("kv_lists").
		Select("id").
		Where(goqu.C("key").Eq(key)).
		Order(goqu.C("id").Asc()).
		Limit(uint(n))
}

// PopN deletes the head entries in a single statement, so concurrent callers
// never receive the same entry.
func (s *SQLStore) PopN(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	query := s.db.Goqu().Delete("kv_lists").
		Where(goqu.C("id").In(s.headIDs(key, n))).
		Returning("id", "payload")

	var rows []listRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("pop %s: %w", key, err)
	}

	slices.SortFunc(rows, func(a, b listRow) int { return cmp.Compare(a.ID, b.ID) })
	return lo.Map(rows, func(r listRow, _ int) []byte { return []byte(r.Payload) }), nil
}

func (s *SQLStore) Peek(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	var rows []listRow
	err := s.db.Goqu().From("kv_lists").
		Select("id", "payload").
		Where(goqu.C("key").Eq(key)).
		Order(goqu.C("id").Asc()).
		Limit(uint(n)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", key, err)
	}
	return lo.Map(rows, func(r listRow, _ int) []byte { return []byte(r.Payload) }), nil
}

func (s *SQLStore) Trim(ctx context.Context, key string, n int) error {
	if n <= 0 {
		return nil
	}

	_, err := s.db.Goqu().Delete("kv_lists").
		Where(goqu.C("id").In(s.headIDs(key, n))).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("trim %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Len(ctx context.Context, key string) (int64, error) {
	n, err := s.db.Goqu().From("kv_lists").Where(goqu.C("key").Eq(key)).CountContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	rows := lo.Map(lo.Uniq(members), func(m string, _ int) any {
		return goqu.Record{"key": key, "member": m}
	})
	_, err := s.db.Goqu().Insert("kv_sets").
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	_, err := s.db.Goqu().Delete("kv_sets").
		Where(goqu.C("key").Eq(key), goqu.C("member").In(members)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.db.Goqu().From("kv_sets").
		Select("member").
		Where(goqu.C("key").Eq(key)).
		Order(goqu.C("member").Asc()).
		ScanValsContext(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

func (s *SQLStore) XAdd(ctx context.Context, stream string, payload []byte) (string, error) {
	query := s.db.Goqu().Insert("kv_streams").
		Rows(goqu.Record{"stream": stream, "payload": string(payload)}).
		Returning("id")

	var id int64
	if _, err := query.Executor().ScanValContext(ctx, &id); err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLStore) XRead(ctx context.Context, stream, after string, count int) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}

	afterID, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("xread %s: invalid cursor %q: %w", stream, after, err)
	}

	var rows []streamRow
	err = s.db.Goqu().From("kv_streams").
		Select("id", "payload").
		Where(goqu.C("stream").Eq(stream), goqu.C("id").Gt(afterID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(count)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("xread %s: %w", stream, err)
	}

	return lo.Map(rows, func(r streamRow, _ int) Entry {
		return Entry{ID: strconv.FormatInt(r.ID, 10), Payload: []byte(r.Payload)}
	}), nil
}

// Lock inserts the lock row, or takes over a row whose TTL has lapsed.
func (s *SQLStore) Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	query := s.db.Goqu().Insert("kv_locks").
		Rows(goqu.Record{"key": key, "token": token, "expires_at": now.Add(ttl).UnixMilli()}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"token":      goqu.L("excluded.token"),
			"expires_at": goqu.L("excluded.expires_at"),
		}).Where(goqu.I("kv_locks.expires_at").Lt(now.UnixMilli())))

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Unlock(ctx context.Context, key, token string) error {
	_, err := s.db.Goqu().Delete("kv_locks").
		Where(goqu.C("key").Eq(key), goqu.C("token").Eq(token)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}
