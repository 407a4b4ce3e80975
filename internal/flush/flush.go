// Package flush moves buffered click and view events from the event log
// into their monthly partitions.
package flush

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/partition"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Delivery of the flush path. Entries are popped before the insert commits.
const Delivery = internal.DeliveryAtMostOnce

const DefaultBatchSize = 1000

var tables = map[internal.EventKind]string{
	internal.EventClick: partition.TableClicks,
	internal.EventView:  partition.TableViews,
}

type Config struct {
	BatchSize   int
	IdleBackoff time.Duration
}

type Result struct {
	Clicks   int  `json:"clicks"`
	Views    int  `json:"views"`
	Dropped  int  `json:"dropped"`
	Requeued int  `json:"requeued"`
	Idle     bool `json:"idle"`
	// RetryAfter is set on idle runs and tells the scheduler when another
	// run is worth it.
	RetryAfter time.Duration `json:"-"`
}

type Worker struct {
	db         *db.DB
	store      kv.Store
	partitions *partition.Manager
	events     *repo.EventsRepo
	cfg        Config
}

func NewWorker(database *db.DB, store kv.Store, partitions *partition.Manager, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 30 * time.Second
	}
	return &Worker{
		db:         database,
		store:      store,
		partitions: partitions,
		events:     repo.NewEventsRepo(database),
		cfg:        cfg,
	}
}

// Flush persists up to one batch of clicks and one batch of views.
func (w *Worker) Flush(ctx context.Context) (Result, error) {
	var res Result
	for _, kind := range internal.EventKinds {
		out, err := w.flushKind(ctx, kind)
		res.Dropped += out.dropped
		res.Requeued += out.requeued
		switch kind {
		case internal.EventClick:
			res.Clicks = out.inserted
		case internal.EventView:
			res.Views = out.inserted
		}
		if err != nil {
			return res, err
		}
	}

	if res.Clicks+res.Views == 0 {
		res.Idle = true
		res.RetryAfter = w.cfg.IdleBackoff
	}

	log.Info().
		Int("clicks", res.Clicks).
		Int("views", res.Views).
		Int("dropped", res.Dropped).
		Int("requeued", res.Requeued).
		Bool("idle", res.Idle).
		Msg("flush completed")
	return res, nil
}

type kindOutcome struct {
	inserted int
	dropped  int
	requeued int
}

type entry struct {
	event internal.Event
	raw   []byte
}

func (w *Worker) flushKind(ctx context.Context, kind internal.EventKind) (kindOutcome, error) {
	var out kindOutcome
	key := eventlog.ListKey(kind)

	size, err := w.store.Len(ctx, key)
	if err != nil {
		return out, fmt.Errorf("measure %s: %w", key, err)
	}
	if size == 0 {
		return out, nil
	}

	payloads, err := w.store.PopN(ctx, key, int(min(size, int64(w.cfg.BatchSize))))
	if err != nil {
		return out, fmt.Errorf("pop %s: %w", key, err)
	}

	var entries []entry
	for _, raw := range payloads {
		e, err := eventlog.Decode(raw)
		if err != nil {
			out.dropped++
			log.Debug().Err(err).Str("list", key).Msg("dropping malformed event")
			continue
		}
		entries = append(entries, entry{event: e, raw: raw})
	}
	if len(entries) == 0 {
		return out, nil
	}

	byMonth := lo.GroupBy(entries, func(en entry) string { return partition.MonthKey(en.event.OccurredAt) })
	months := lo.Map(entries, func(en entry, _ int) time.Time { return en.event.OccurredAt })

	ensured, err := w.partitions.EnsureMonths(ctx, months...)
	if err != nil {
		w.requeue(ctx, key, entries)
		out.requeued = len(entries)
		return out, fmt.Errorf("ensure partitions: %w", err)
	}
	missing := lo.Keyify(ensured.Missing)

	table := tables[kind]
	ready := map[string][]internal.Event{}
	for month, group := range byMonth {
		target := w.partitions.Target(table, group[0].event.OccurredAt)
		if _, ok := missing[partition.For(table, group[0].event.OccurredAt).Name()]; ok {
			log.Warn().Str("month", month).Str("table", table).Int("events", len(group)).Msg("partition not ready, requeueing")
			w.requeue(ctx, key, group)
			out.requeued += len(group)
			continue
		}
		ready[target] = append(ready[target], lo.Map(group, func(en entry, _ int) internal.Event { return en.event })...)
	}
	if len(ready) == 0 {
		return out, nil
	}

	deltas := map[string]int64{}
	count := 0
	for _, events := range ready {
		for _, e := range events {
			deltas[e.SubjectID]++
		}
		count += len(events)
	}

	tx, err := w.db.Goqu().BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	err = tx.Wrap(func() error {
		for target, events := range ready {
			if err := w.events.InsertBatch(ctx, tx, target, events); err != nil {
				return err
			}
		}
		return w.events.AddTotals(ctx, tx, kind, deltas)
	})
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Int("events", count).Msg("flush failed, popped events are lost")
		return out, fmt.Errorf("persist %s events: %w", kind, err)
	}

	out.inserted = count
	return out, nil
}

func (w *Worker) requeue(ctx context.Context, key string, entries []entry) {
	raws := lo.Map(entries, func(en entry, _ int) []byte { return en.raw })
	if err := w.store.Push(ctx, key, raws...); err != nil {
		log.Error().Err(err).Str("list", key).Int("events", len(raws)).Msg("failed to requeue events")
	}
}

// Run flushes every interval until ctx is done, backing off while idle.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := interval
			res, err := w.Flush(ctx)
			if err != nil {
				log.Error().Err(err).Msg("flush run failed")
			} else if res.Idle {
				next = max(interval, res.RetryAfter)
			}
			timer.Reset(next)
		}
	}
}
