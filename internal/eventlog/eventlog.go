// Package eventlog buffers raw click and view events outside the relational
// store until the flush worker persists them.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/kv"
)

// Stream is the append-only log read by the aggregation consumer.
const Stream = "stream:events"

// ListKey names the flush list of an event kind.
func ListKey(kind internal.EventKind) string {
	return "events:" + string(kind)
}

// StreamRecord is the compact form of an event kept on the aggregation stream.
type StreamRecord struct {
	Kind       internal.EventKind `json:"kind"`
	SubjectID  string             `json:"subjectId"`
	Referrer   string             `json:"referrer"`
	Device     string             `json:"device"`
	OccurredAt time.Time          `json:"occurredAt"`
}

type Log struct {
	store kv.Store
}

func New(store kv.Store) *Log {
	return &Log{store: store}
}

func (l *Log) AppendClick(ctx context.Context, e internal.Event) error {
	return l.Append(ctx, internal.EventClick, e)
}

func (l *Log) AppendView(ctx context.Context, e internal.Event) error {
	return l.Append(ctx, internal.EventView, e)
}

// Append pushes e onto the flush list of kind and records it on the
// aggregation stream.
func (l *Log) Append(ctx context.Context, kind internal.EventKind, e internal.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.OccurredAt = e.OccurredAt.UTC()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	if err := l.store.Push(ctx, ListKey(kind), payload); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}

	record, err := json.Marshal(StreamRecord{
		Kind:       kind,
		SubjectID:  e.SubjectID,
		Referrer:   e.Referrer,
		Device:     e.Device,
		OccurredAt: e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encode stream record: %w", err)
	}
	if _, err := l.store.XAdd(ctx, Stream, record); err != nil {
		return fmt.Errorf("append to %s: %w", Stream, err)
	}
	return nil
}

// Decode parses a list entry back into an event and rejects malformed ones.
func Decode(payload []byte) (internal.Event, error) {
	var e internal.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return internal.Event{}, fmt.Errorf("%w: %v", internal.ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return internal.Event{}, err
	}
	return e, nil
}

func DecodeRecord(payload []byte) (StreamRecord, error) {
	var r StreamRecord
	if err := json.Unmarshal(payload, &r); err != nil {
		return StreamRecord{}, fmt.Errorf("%w: %v", internal.ErrInvalidEvent, err)
	}
	if r.OccurredAt.IsZero() {
		return StreamRecord{}, fmt.Errorf("%w: occurred at is required", internal.ErrInvalidEvent)
	}
	return r, nil
}
