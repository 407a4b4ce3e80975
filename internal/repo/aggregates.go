package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/samber/lo"
)

// AggregateKey identifies one rolling monthly counter, e.g.
// {referrer, twitter.com, 2026-10}.
type AggregateKey struct {
	Dimension string
	Value     string
	Month     string
}

type aggregateRow struct {
	Dimension string `db:"dimension"`
	Value     string `db:"value"`
	Month     string `db:"month"`
	Count     int64  `db:"count"`
}

type AggregatesRepo struct {
	db *db.DB
}

func NewAggregatesRepo(database *db.DB) *AggregatesRepo {
	return &AggregatesRepo{db: database}
}

// Cursor returns the last processed stream id, or origin when the stream
// has never been consumed.
func (r *AggregatesRepo) Cursor(ctx context.Context, stream, origin string) (string, error) {
	var lastID string
	found, err := r.db.Goqu().From("stream_cursors").
		Select("last_id").
		Where(goqu.Ex{"stream": stream}).
		ScanValContext(ctx, &lastID)
	if err != nil {
		return "", fmt.Errorf("get cursor of %s: %w", stream, err)
	}
	if !found {
		return origin, nil
	}
	return lastID, nil
}

// Apply adds every count and moves the cursor in one transaction, so a crash
// leaves both untouched.
func (r *AggregatesRepo) Apply(ctx context.Context, stream, cursor string, counts map[AggregateKey]int64) error {
	tx, err := r.db.Goqu().BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	return tx.Wrap(func() error {
		if len(counts) > 0 {
			rows := lo.MapToSlice(counts, func(k AggregateKey, n int64) any {
				return aggregateRow{Dimension: k.Dimension, Value: k.Value, Month: k.Month, Count: n}
			})
			_, err := tx.Insert("aggregate_counters").
				Rows(rows...).
				OnConflict(goqu.DoUpdate("dimension, value, month", goqu.Record{
					"count": goqu.L("? + excluded.count", goqu.I("aggregate_counters.count")),
				})).
				Executor().ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("apply aggregate counts: %w", err)
			}
		}

		_, err := tx.Insert("stream_cursors").
			Rows(goqu.Record{"stream": stream, "last_id": cursor, "updated_at": NewDate(time.Now())}).
			OnConflict(goqu.DoUpdate("stream", goqu.Record{
				"last_id":    goqu.L("excluded.last_id"),
				"updated_at": goqu.L("excluded.updated_at"),
			})).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("advance cursor of %s: %w", stream, err)
		}
		return nil
	})
}

// Counts returns value -> count for one dimension and month.
func (r *AggregatesRepo) Counts(ctx context.Context, dimension, month string) (map[string]int64, error) {
	var rows []aggregateRow
	err := r.db.Goqu().From("aggregate_counters").
		Select("dimension", "value", "month", "count").
		Where(goqu.Ex{"dimension": dimension, "month": month}).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list %s counts: %w", dimension, err)
	}

	return lo.SliceToMap(rows, func(row aggregateRow) (string, int64) {
		return row.Value, row.Count
	}), nil
}
