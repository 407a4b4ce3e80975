// Package ordering assigns order keys so that a newly created entity sorts
// before every other entity of its owner.
package ordering

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

// InsertFunc writes the new entity inside the allocation transaction.
type InsertFunc func(ctx context.Context, tx *goqu.TxDatabase, key internal.OrderKey) error

type Allocator struct {
	db       *db.DB
	store    kv.Store
	entities *repo.EntitiesRepo
	cfg      Config
}

func NewAllocator(database *db.DB, store kv.Store, cfg Config) *Allocator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &Allocator{
		db:       database,
		store:    store,
		entities: repo.NewEntitiesRepo(database),
		cfg:      cfg,
	}
}

func LockKey(userID string) string {
	return "lock:order:" + userID
}

// Allocate returns one less than the lowest order key userID holds across
// all collections, or -1 for a user without entities. q should be the
// transaction the new row is inserted with.
func (a *Allocator) Allocate(ctx context.Context, q repo.Executor, userID string) (internal.OrderKey, error) {
	var base int64
	found := false
	for _, kind := range internal.EntityKinds {
		key, ok, err := a.entities.MinOrderKey(ctx, q, kind, userID)
		if err != nil {
			return 0, err
		}
		if ok && (!found || key < base) {
			base, found = key, true
		}
	}
	return internal.OrderKey(base - 1), nil
}

// Create allocates a key and runs insert with it while holding userID's
// ordering lock, so concurrent creations for one user never share a base.
func (a *Allocator) Create(ctx context.Context, userID string, insert InsertFunc) (internal.OrderKey, error) {
	mu := kv.NewMutex(a.store, LockKey(userID), a.cfg.LockTTL)
	if err := mu.Lock(ctx, a.cfg.LockWait); err != nil {
		return 0, fmt.Errorf("acquire %s: %w", mu.Key(), err)
	}
	defer func() {
		if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("lock", mu.Key()).Msg("failed to release ordering lock")
		}
	}()

	tx, err := a.db.Goqu().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var key internal.OrderKey
	err = tx.Wrap(func() error {
		key, err = a.Allocate(ctx, tx, userID)
		if err != nil {
			return err
		}
		return insert(ctx, tx, key)
	})
	if err != nil {
		return 0, err
	}
	return key, nil
}

// CreateEntity materializes p at the top of its owner's page and returns
// the new row id.
func (a *Allocator) CreateEntity(ctx context.Context, p internal.IntakePayload) (int64, internal.OrderKey, error) {
	var id int64
	key, err := a.Create(ctx, p.UserID, func(ctx context.Context, tx *goqu.TxDatabase, key internal.OrderKey) error {
		var err error
		id, err = a.entities.Insert(ctx, tx, p, key, time.Now())
		return err
	})
	return id, key, err
}
