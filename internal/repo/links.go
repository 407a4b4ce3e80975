package repo

import (
	"context"
	"math/rand"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type Link struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	OrderKey  int64  `json:"order_key"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	CreatedAt Date   `json:"created_at"`
	Clicks    int64  `json:"clicks"`
}

type linkRow struct {
	ID        int64  `db:"id" goqu:"skipinsert,skipupdate"`
	UserID    string `db:"user_id"`
	OrderKey  int64  `db:"order_key"`
	Slug      string `db:"slug"`
	Title     string `db:"title"`
	URL       string `db:"url"`
	CreatedAt Date   `db:"created_at" goqu:"skipupdate"`
}

type LinksRepo struct {
	db *db.DB
}

func NewLinksRepo(database *db.DB) *LinksRepo {
	return &LinksRepo{db: database}
}

func (r *LinksRepo) GetBySlug(ctx context.Context, slug string) (*Link, error) {
	log.Debug().Str("slug", slug).Msg("fetching link by slug")

	query := r.db.Goqu().From("links").Where(goqu.Ex{"slug": slug}).Select(
		"id", "user_id", "order_key", "slug", "title", "url", "created_at",
	)

	var row linkRow
	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to fetch link")
		return nil, err
	}

	if !found {
		log.Debug().Str("slug", slug).Msg("link not found")
		return nil, internal.ErrLinkNotFound
	}

	return row.toDomain(), nil
}

// ListByOwner returns a user's links in display order, lowest order key first.
func (r *LinksRepo) ListByOwner(ctx context.Context, userID string) ([]*Link, error) {
	query := r.db.Goqu().From("links").
		Where(goqu.Ex{"user_id": userID}).
		Select("id", "user_id", "order_key", "slug", "title", "url", "created_at").
		Order(goqu.C("order_key").Asc())

	var rows []linkRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}

	links := make([]*Link, len(rows))
	for i := range rows {
		links[i] = rows[i].toDomain()
	}
	return links, nil
}

func (r *linkRow) toDomain() *Link {
	return &Link{
		ID:        r.ID,
		UserID:    r.UserID,
		OrderKey:  r.OrderKey,
		Slug:      r.Slug,
		Title:     r.Title,
		URL:       r.URL,
		CreatedAt: r.CreatedAt,
	}
}

func GenerateSlug() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	slug := make([]byte, 6)
	for i := range slug {
		slug[i] = charset[rand.Intn(len(charset))]
	}
	return string(slug)
}
