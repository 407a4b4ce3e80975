// Package tracking records clicks and views on the request path. It never
// fails the request it is called from.
package tracking

import (
	"context"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/counter"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/rs/zerolog/log"
)

// Baseline returns the durable total an evicted counter is reseeded from.
type Baseline interface {
	Total(ctx context.Context, kind internal.EventKind, subjectID string) (int64, error)
}

type Tracker struct {
	counters *counter.Cache
	events   *eventlog.Log
	baseline Baseline
}

func New(counters *counter.Cache, events *eventlog.Log, baseline Baseline) *Tracker {
	return &Tracker{counters: counters, events: events, baseline: baseline}
}

// RecordClick counts and logs a click. It returns the counter value after
// the increment, or zero when the counter was unavailable.
func (t *Tracker) RecordClick(ctx context.Context, e internal.Event) int64 {
	return t.record(ctx, internal.EventClick, e)
}

func (t *Tracker) RecordView(ctx context.Context, e internal.Event) int64 {
	return t.record(ctx, internal.EventView, e)
}

func (t *Tracker) record(ctx context.Context, kind internal.EventKind, e internal.Event) int64 {
	value, err := t.increment(ctx, kind, e.SubjectID)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("subject_id", e.SubjectID).Msg("skipping counter update")
	}

	if err := t.events.Append(ctx, kind, e); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("subject_id", e.SubjectID).Msg("failed to append event")
	}
	return value
}

func (t *Tracker) increment(ctx context.Context, kind internal.EventKind, subjectID string) (int64, error) {
	_, found, err := t.counters.Value(ctx, kind, subjectID)
	if err != nil {
		return 0, err
	}
	if !found {
		total, err := t.baseline.Total(ctx, kind, subjectID)
		if err != nil {
			return 0, err
		}
		if _, err := t.counters.Ensure(ctx, kind, subjectID, total); err != nil {
			return 0, err
		}
	}
	return t.counters.Increment(ctx, kind, subjectID)
}

// Count returns the cached counter, falling back to the durable total when
// the counter has not been seeded yet.
func (t *Tracker) Count(ctx context.Context, kind internal.EventKind, subjectID string) (int64, error) {
	value, found, err := t.counters.Value(ctx, kind, subjectID)
	if err != nil || !found {
		return t.baseline.Total(ctx, kind, subjectID)
	}
	return value, nil
}
