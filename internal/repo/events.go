package repo

import (
	"context"
	"fmt"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type eventRow struct {
	SubjectID  string `db:"subject_id"`
	Device     string `db:"device"`
	UserAgent  string `db:"user_agent"`
	Country    string `db:"country"`
	Referrer   string `db:"referrer"`
	OccurredAt Date   `db:"occurred_at"`
}

// EventsRepo writes flushed click and view events and keeps the durable
// per-subject totals that seed the counter cache.
type EventsRepo struct {
	db *db.DB
}

func NewEventsRepo(database *db.DB) *EventsRepo {
	return &EventsRepo{db: database}
}

// InsertBatch bulk inserts events into target, which is either a monthly
// partition or a partitioned parent table depending on the database.
func (r *EventsRepo) InsertBatch(ctx context.Context, q Executor, target string, events []internal.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := lo.Map(events, func(e internal.Event, _ int) any {
		return eventRow{
			SubjectID:  e.SubjectID,
			Device:     e.Device,
			UserAgent:  e.UserAgent,
			Country:    e.Country,
			Referrer:   e.Referrer,
			OccurredAt: NewDate(e.OccurredAt),
		}
	})

	if _, err := q.Insert(target).Rows(rows...).Executor().ExecContext(ctx); err != nil {
		log.Error().Err(err).Str("table", target).Int("rows", len(events)).Msg("failed to insert events")
		return fmt.Errorf("insert into %s: %w", target, err)
	}

	log.Debug().Str("table", target).Int("rows", len(events)).Msg("events inserted")
	return nil
}

// AddTotals increments the durable total of every subject by its delta.
func (r *EventsRepo) AddTotals(ctx context.Context, q Executor, kind internal.EventKind, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	rows := lo.MapToSlice(deltas, func(subjectID string, n int64) any {
		return goqu.Record{"kind": string(kind), "subject_id": subjectID, "total": n}
	})

	_, err := q.Insert("event_totals").
		Rows(rows...).
		OnConflict(goqu.DoUpdate("kind, subject_id", goqu.Record{
			"total": goqu.L("? + excluded.total", goqu.I("event_totals.total")),
		})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("add %s totals: %w", kind, err)
	}
	return nil
}

// Total returns the durable count for one subject, zero when none were flushed.
func (r *EventsRepo) Total(ctx context.Context, kind internal.EventKind, subjectID string) (int64, error) {
	var total int64
	_, err := r.db.Goqu().From("event_totals").
		Select("total").
		Where(goqu.Ex{"kind": string(kind), "subject_id": subjectID}).
		ScanValContext(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("get %s total: %w", kind, err)
	}
	return total, nil
}

// Count returns the number of rows stored in a partition or parent table.
func (r *EventsRepo) Count(ctx context.Context, table string) (int64, error) {
	return r.db.Goqu().From(table).CountContext(ctx)
}
