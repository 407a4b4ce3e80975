// Package aggregate rolls the event stream up into monthly referrer and
// device counters.
package aggregate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/partition"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/rs/zerolog/log"
)

const (
	DimensionReferrer = "referrer"
	DimensionDevice   = "device"
)

const (
	DirectReferrer = "direct"
	UnknownDevice  = "unknown"
)

type Config struct {
	BatchSize int
	LockTTL   time.Duration
}

type Result struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Cursor    string `json:"cursor"`
	Idle      bool   `json:"idle"`
	Locked    bool   `json:"locked"`
}

// Consumer advances a persisted cursor over one stream. Counts and the
// cursor move together, so a failed run can simply be repeated.
type Consumer struct {
	store      kv.Store
	aggregates *repo.AggregatesRepo
	stream     string
	cfg        Config
}

func NewConsumer(database *db.DB, store kv.Store, cfg Config) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Consumer{
		store:      store,
		aggregates: repo.NewAggregatesRepo(database),
		stream:     eventlog.Stream,
		cfg:        cfg,
	}
}

func LockKey(stream string) string {
	return "lock:aggregate:" + stream
}

// Consume processes at most one batch of stream entries after the cursor.
// It returns Locked without reading when another run is in progress.
func (c *Consumer) Consume(ctx context.Context) (Result, error) {
	mu := kv.NewMutex(c.store, LockKey(c.stream), c.cfg.LockTTL)
	acquired, err := mu.TryLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire %s: %w", mu.Key(), err)
	}
	if !acquired {
		log.Debug().Str("stream", c.stream).Msg("aggregation already running")
		return Result{Locked: true}, nil
	}
	defer func() {
		if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("lock", mu.Key()).Msg("failed to release aggregation lock")
		}
	}()

	cursor, err := c.aggregates.Cursor(ctx, c.stream, kv.StreamOrigin)
	if err != nil {
		return Result{}, err
	}

	entries, err := c.store.XRead(ctx, c.stream, cursor, c.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", c.stream, err)
	}
	if len(entries) == 0 {
		return Result{Cursor: cursor, Idle: true}, nil
	}

	res := Result{Cursor: entries[len(entries)-1].ID}
	counts := map[repo.AggregateKey]int64{}
	for _, entry := range entries {
		record, err := eventlog.DecodeRecord(entry.Payload)
		if err != nil {
			res.Skipped++
			log.Debug().Err(err).Str("id", entry.ID).Msg("skipping malformed stream entry")
			continue
		}

		month := partition.MonthKey(record.OccurredAt)
		counts[repo.AggregateKey{Dimension: DimensionReferrer, Value: NormalizeReferrer(record.Referrer), Month: month}]++
		counts[repo.AggregateKey{Dimension: DimensionDevice, Value: NormalizeDevice(record.Device), Month: month}]++
		res.Processed++
	}

	if err := c.aggregates.Apply(ctx, c.stream, res.Cursor, counts); err != nil {
		return Result{}, err
	}

	log.Info().
		Str("stream", c.stream).
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Str("cursor", res.Cursor).
		Msg("aggregation completed")
	return res, nil
}

// Run consumes every interval until ctx is done.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Consume(ctx); err != nil {
				log.Error().Err(err).Msg("aggregation run failed")
			}
		}
	}
}

// NormalizeReferrer reduces a referrer to its bare host, e.g.
// https://www.Twitter.com/x -> twitter.com.
func NormalizeReferrer(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return DirectReferrer
	}

	host := ref
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if u, err := url.Parse("//" + ref); err == nil && u.Host != "" {
		host = u.Hostname()
	}

	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return DirectReferrer
	}
	return host
}

func NormalizeDevice(device string) string {
	device = strings.ToLower(strings.TrimSpace(device))
	if device == "" {
		return UnknownDevice
	}
	return device
}
