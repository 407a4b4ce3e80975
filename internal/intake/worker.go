package intake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/ordering"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/doug-martin/goqu/v9"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Delivery of the intake path. Entries are trimmed only after their row
// commits; receipts make the replay harmless.
const Delivery = internal.DeliveryAtLeastOnce

type Config struct {
	BatchSize int
	LockTTL   time.Duration
}

type DrainResult struct {
	Queues     int `json:"queues"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Locked     int `json:"locked"`
}

// Worker drains every pending queue. All queues of one user are drained
// together by a single consumer so entities are created in submission order.
type Worker struct {
	store     kv.Store
	allocator *ordering.Allocator
	entities  *repo.EntitiesRepo
	policy    *bluemonday.Policy
	cfg       Config
}

func NewWorker(database *db.DB, store kv.Store, allocator *ordering.Allocator, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Worker{
		store:     store,
		allocator: allocator,
		entities:  repo.NewEntitiesRepo(database),
		policy:    bluemonday.UGCPolicy(),
		cfg:       cfg,
	}
}

// LockKey names the lock held while one user's queues are drained.
func LockKey(userID string) string {
	return "lock:intake:" + userID
}

// Drain processes one batch from every pending queue, user by user.
func (w *Worker) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	queues, err := w.store.SMembers(ctx, PendingKey)
	if err != nil {
		return res, fmt.Errorf("list pending queues: %w", err)
	}

	byUser := make(map[string][]string)
	for _, queue := range queues {
		_, userID, ok := parseQueueKey(queue)
		if !ok {
			log.Warn().Str("queue", queue).Msg("ignoring unknown pending queue")
			continue
		}
		byUser[userID] = append(byUser[userID], queue)
	}
	users := lo.Keys(byUser)
	slices.Sort(users)

	var errs []error
	for _, userID := range users {
		if err := w.drainUser(ctx, userID, byUser[userID], &res); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to drain user queues")
			errs = append(errs, err)
		}
	}

	log.Info().
		Int("users", len(users)).
		Int("queues", res.Queues).
		Int("created", res.Created).
		Int("duplicates", res.Duplicates).
		Int("skipped", res.Skipped).
		Int("locked", res.Locked).
		Msg("intake drained")
	return res, errors.Join(errs...)
}

// queued is one peeked queue entry.
type queued struct {
	payload internal.IntakePayload
	err     error
}

// cursor walks the peeked head of one queue. A full cursor may have more
// entries behind the batch.
type cursor struct {
	queue   string
	entries []queued
	next    int
	full    bool
}

func (c *cursor) head() queued {
	return c.entries[c.next]
}

// before orders malformed entries first so they are skipped right away,
// then by enqueue time with the submission id breaking ties.
func before(a, b queued) bool {
	if a.err != nil || b.err != nil {
		return a.err != nil && b.err == nil
	}
	if !a.payload.EnqueuedAt.Equal(b.payload.EnqueuedAt) {
		return a.payload.EnqueuedAt.Before(b.payload.EnqueuedAt)
	}
	return a.payload.SubmissionID < b.payload.SubmissionID
}

func (w *Worker) drainUser(ctx context.Context, userID string, queues []string, res *DrainResult) error {
	mu := kv.NewMutex(w.store, LockKey(userID), w.cfg.LockTTL)
	acquired, err := mu.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", mu.Key(), err)
	}
	if !acquired {
		res.Locked++
		return nil
	}
	defer func() {
		if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("lock", mu.Key()).Msg("failed to release intake lock")
		}
	}()

	slices.Sort(queues)
	cursors := make([]*cursor, 0, len(queues))
	for _, queue := range queues {
		batch, err := w.store.Peek(ctx, queue, w.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("peek %s: %w", queue, err)
		}
		c := &cursor{queue: queue, full: len(batch) >= w.cfg.BatchSize}
		for _, raw := range batch {
			p, err := decodePayload(raw)
			c.entries = append(c.entries, queued{payload: p, err: err})
		}
		cursors = append(cursors, c)
		res.Queues++
	}

	failure := w.materializeInOrder(ctx, cursors, res)

	var errs []error
	for _, c := range cursors {
		if c.next > 0 {
			if err := w.store.Trim(ctx, c.queue, c.next); err != nil {
				errs = append(errs, fmt.Errorf("trim %s: %w", c.queue, err))
				continue
			}
		}
		if failure == nil {
			errs = append(errs, w.retireIfEmpty(ctx, c.queue))
		}
	}
	return errors.Join(append(errs, failure)...)
}

// materializeInOrder repeatedly takes the earliest head across the user's
// queues, so each queue is only ever consumed from the front. It stops at
// the first entry that fails for a reason other than bad input.
func (w *Worker) materializeInOrder(ctx context.Context, cursors []*cursor, res *DrainResult) error {
	for {
		// Unpeeked entries of an exhausted full queue may predate every
		// remaining head, so the rest waits for the next run.
		if lo.ContainsBy(cursors, func(c *cursor) bool { return c.full && c.next == len(c.entries) }) {
			return nil
		}
		active := lo.Filter(cursors, func(c *cursor, _ int) bool { return c.next < len(c.entries) })
		if len(active) == 0 {
			return nil
		}
		c := lo.MinBy(active, func(a, b *cursor) bool { return before(a.head(), b.head()) })
		entry := c.head()

		if entry.err != nil {
			res.Skipped++
			c.next++
			log.Warn().Err(entry.err).Str("queue", c.queue).Msg("skipping malformed creation")
			continue
		}

		created, err := w.materialize(ctx, entry.payload)
		if errors.Is(err, internal.ErrInvalidPayload) || errors.Is(err, internal.ErrSlugExists) {
			res.Skipped++
			c.next++
			log.Warn().Err(err).Str("queue", c.queue).Str("submission_id", entry.payload.SubmissionID).Msg("skipping invalid creation")
			continue
		}
		if err != nil {
			// Keep the entry and everything after it for the next run.
			return err
		}

		if created {
			res.Created++
		} else {
			res.Duplicates++
		}
		c.next++
	}
}

// retireIfEmpty drops queue from the pending set once it is empty. A push
// that races with the removal puts it back.
func (w *Worker) retireIfEmpty(ctx context.Context, queue string) error {
	n, err := w.store.Len(ctx, queue)
	if err != nil || n > 0 {
		return err
	}
	if err := w.store.SRem(ctx, PendingKey, queue); err != nil {
		return err
	}
	if n, err = w.store.Len(ctx, queue); err != nil {
		return err
	}
	if n > 0 {
		return w.store.SAdd(ctx, PendingKey, queue)
	}
	return nil
}

// materialize inserts the row for p at the top of its owner's page. It
// reports false when the submission had already been materialized.
func (w *Worker) materialize(ctx context.Context, p internal.IntakePayload) (bool, error) {
	if p.Kind == internal.EntityText {
		p.Body = strings.TrimSpace(w.policy.Sanitize(p.Body))
		if err := p.Validate(); err != nil {
			return false, err
		}
	}

	now := time.Now()
	created := false
	_, err := w.allocator.Create(ctx, p.UserID, func(ctx context.Context, tx *goqu.TxDatabase, key internal.OrderKey) error {
		if p.SubmissionID != "" {
			fresh, err := w.entities.RecordSubmission(ctx, tx, p, now)
			if err != nil {
				return err
			}
			if !fresh {
				return nil
			}
		}
		if p.Kind == internal.EntityLink && p.Slug != "" {
			taken, err := w.entities.SlugTaken(ctx, tx, p.Slug)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %q", internal.ErrSlugExists, p.Slug)
			}
		}
		if _, err := w.entities.Insert(ctx, tx, p, key, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !created {
		log.Debug().Str("submission_id", p.SubmissionID).Msg("submission already materialized")
	}
	return created, nil
}

// Run drains every interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				log.Error().Err(err).Msg("intake run failed")
			}
		}
	}
}
