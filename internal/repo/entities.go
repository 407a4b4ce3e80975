package repo

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

// Executor is satisfied by both *goqu.Database and *goqu.TxDatabase, so
// callers decide whether a statement joins a transaction.
type Executor interface {
	From(from ...interface{}) *goqu.SelectDataset
	Insert(table interface{}) *goqu.InsertDataset
}

// EntityRef is the ordering-relevant view of any entity row.
type EntityRef struct {
	Kind     internal.EntityKind `json:"kind"`
	ID       int64               `json:"id"`
	OrderKey int64               `json:"order_key"`
}

type EntitiesRepo struct {
	db *db.DB
}

func NewEntitiesRepo(database *db.DB) *EntitiesRepo {
	return &EntitiesRepo{db: database}
}

// MinOrderKey returns the lowest order key of userID's rows in one collection.
// found is false when the collection holds no rows for the user.
func (r *EntitiesRepo) MinOrderKey(ctx context.Context, q Executor, kind internal.EntityKind, userID string) (int64, bool, error) {
	var minKey sql.NullInt64
	_, err := q.From(kind.Table()).
		Select(goqu.MIN("order_key")).
		Where(goqu.Ex{"user_id": userID}).
		ScanValContext(ctx, &minKey)
	if err != nil {
		return 0, false, fmt.Errorf("min order key of %s: %w", kind.Table(), err)
	}
	return minKey.Int64, minKey.Valid, nil
}

// Insert writes the row for p at the given order key and returns its id.
func (r *EntitiesRepo) Insert(ctx context.Context, q Executor, p internal.IntakePayload, key internal.OrderKey, now time.Time) (int64, error) {
	record := goqu.Record{
		"user_id":    p.UserID,
		"order_key":  int64(key),
		"created_at": NewDate(now),
	}

	switch p.Kind {
	case internal.EntityLink:
		record["slug"] = p.Slug
		if p.Slug == "" {
			record["slug"] = GenerateSlug()
		}
		record["title"] = p.Title
		record["url"] = p.URL
	case internal.EntityText:
		record["body"] = p.Body
	case internal.EntityVideo:
		record["title"] = p.Title
		record["url"] = p.URL
	case internal.EntityImage:
		record["url"] = p.URL
		record["alt"] = p.Alt
	case internal.EntityMusic:
		record["title"] = p.Title
		record["url"] = p.URL
		record["artist"] = p.Artist
	case internal.EntitySection:
		record["title"] = p.Title
	case internal.EntityEvent:
		record["title"] = p.Title
		record["url"] = p.URL
		record["location"] = p.Location
		if p.StartsAt != nil {
			record["starts_at"] = NewDate(*p.StartsAt)
		}
	default:
		return 0, fmt.Errorf("%w: %q", internal.ErrUnknownKind, p.Kind)
	}

	var id int64
	_, err := q.Insert(p.Kind.Table()).Rows(record).Returning("id").Executor().ScanValContext(ctx, &id)
	if err != nil {
		log.Error().Err(err).Str("kind", string(p.Kind)).Str("user_id", p.UserID).Msg("failed to insert entity")
		return 0, err
	}

	log.Debug().
		Str("kind", string(p.Kind)).
		Str("user_id", p.UserID).
		Int64("id", id).
		Int64("order_key", int64(key)).
		Msg("entity created")
	return id, nil
}

// RecordSubmission stores the idempotency key of a queued creation. It
// returns false when the submission was already materialized.
func (r *EntitiesRepo) RecordSubmission(ctx context.Context, q Executor, p internal.IntakePayload, now time.Time) (bool, error) {
	res, err := q.Insert("intake_receipts").
		Rows(goqu.Record{
			"user_id":       p.UserID,
			"submission_id": p.SubmissionID,
			"kind":          string(p.Kind),
			"created_at":    NewDate(now),
		}).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("record submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrder returns every entity of userID across all collections, sorted
// by order key.
func (r *EntitiesRepo) ListOrder(ctx context.Context, userID string) ([]EntityRef, error) {
	type refRow struct {
		ID       int64 `db:"id"`
		OrderKey int64 `db:"order_key"`
	}

	var refs []EntityRef
	for _, kind := range internal.EntityKinds {
		var rows []refRow
		err := r.db.Goqu().From(kind.Table()).
			Select("id", "order_key").
			Where(goqu.Ex{"user_id": userID}).
			ScanStructsContext(ctx, &rows)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind.Table(), err)
		}
		for _, row := range rows {
			refs = append(refs, EntityRef{Kind: kind, ID: row.ID, OrderKey: row.OrderKey})
		}
	}

	slices.SortFunc(refs, func(a, b EntityRef) int { return cmp.Compare(a.OrderKey, b.OrderKey) })
	return refs, nil
}

// SlugTaken reports whether a link already uses slug.
func (r *EntitiesRepo) SlugTaken(ctx context.Context, q Executor, slug string) (bool, error) {
	n, err := q.From("links").Where(goqu.Ex{"slug": slug}).CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return n > 0, nil
}
