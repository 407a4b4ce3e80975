package partition

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Config struct {
	// LockTTL caps how long a creator may hold the partition lock. The
	// effective TTL never extends past the next month boundary.
	LockTTL time.Duration
	// LockWait bounds how long a caller that lost the lock waits for the
	// holder to finish.
	LockWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Second
	}
	return c
}

// Result reports what one ensure pass did.
type Result struct {
	Created   []string `json:"created"`
	Missing   []string `json:"missing"`
	Contended bool     `json:"contended"`
}

// Manager creates monthly partitions before data for that month arrives.
// Only the holder of the month's lock creates anything; everybody else
// waits for the partitions to show up.
type Manager struct {
	dialect Dialect
	store   kv.Store
	cfg     Config
	now     func() time.Time
}

func NewManager(database *db.DB, store kv.Store, cfg Config) *Manager {
	return &Manager{
		dialect: NewDialect(database),
		store:   store,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// LockKey names the lock guarding partition creation during t's month.
func LockKey(t time.Time) string {
	return "lock:partitions:" + MonthKey(t)
}

// Target returns the table an insert of an event of table at t must use.
func (m *Manager) Target(table string, t time.Time) string {
	return m.dialect.Target(For(table, t))
}

// EnsureMonthly makes sure the current and the next month exist for every
// partitioned table.
func (m *Manager) EnsureMonthly(ctx context.Context) (Result, error) {
	now := m.now()
	return m.EnsureMonths(ctx, MonthOf(now), NextMonth(now))
}

// EnsureMonths makes sure every table has a partition for each given month.
func (m *Manager) EnsureMonths(ctx context.Context, months ...time.Time) (Result, error) {
	months = lo.Uniq(lo.Map(months, func(t time.Time, _ int) time.Time { return MonthOf(t) }))
	slices.SortFunc(months, func(a, b time.Time) int { return a.Compare(b) })

	var wanted []Partition
	for _, month := range months {
		for _, table := range Tables {
			wanted = append(wanted, For(table, month))
		}
	}

	missing, err := m.missing(ctx, wanted)
	if err != nil {
		return Result{}, err
	}
	if len(missing) == 0 {
		return Result{}, nil
	}

	now := m.now()
	mu := kv.NewMutex(m.store, LockKey(now), m.lockTTL(now))
	acquired, err := mu.TryLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire %s: %w", mu.Key(), err)
	}
	if !acquired {
		log.Debug().Str("lock", mu.Key()).Msg("partition lock held elsewhere, waiting")
		return m.await(ctx, missing)
	}
	defer func() {
		if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("lock", mu.Key()).Msg("failed to release partition lock")
		}
	}()

	var res Result
	for _, p := range missing {
		// Another holder may have created it before our lock was granted.
		exists, err := m.dialect.Exists(ctx, p)
		if err != nil {
			return res, err
		}
		if exists {
			continue
		}
		if err := m.dialect.Create(ctx, p); err != nil {
			return res, err
		}
		res.Created = append(res.Created, p.Name())
		log.Info().Str("partition", p.Name()).Time("from", p.RangeStart).Time("to", p.RangeEnd).Msg("partition created")
	}
	return res, nil
}

func (m *Manager) missing(ctx context.Context, partitions []Partition) ([]Partition, error) {
	var missing []Partition
	for _, p := range partitions {
		exists, err := m.dialect.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// await polls until the lock holder has created every missing partition or
// the wait runs out. It never creates anything itself.
func (m *Manager) await(ctx context.Context, missing []Partition) (Result, error) {
	res := Result{Contended: true}
	deadline := time.Now().Add(m.cfg.LockWait)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		var err error
		missing, err = m.missing(ctx, missing)
		if err != nil {
			return res, err
		}
		if len(missing) == 0 || time.Now().After(deadline) {
			res.Missing = lo.Map(missing, func(p Partition, _ int) string { return p.Name() })
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) lockTTL(now time.Time) time.Duration {
	ttl := min(m.cfg.LockTTL, NextMonth(now).Sub(now))
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Run ensures monthly partitions right away and then every interval until
// ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res, err := m.EnsureMonthly(ctx); err != nil {
			log.Error().Err(err).Msg("partition check failed")
		} else if len(res.Missing) > 0 {
			log.Warn().Strs("missing", res.Missing).Msg("partitions still missing")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
