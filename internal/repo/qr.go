package repo

import (
	"context"
	"fmt"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/samber/lo"
)

type qrRow struct {
	ID           string `db:"id"`
	Variant      string `db:"variant"`
	ContentHash  string `db:"content_hash"`
	CanonicalURL string `db:"canonical_url"`
	Format       string `db:"format"`
	Size         int    `db:"size"`
	SizeBytes    int64  `db:"size_bytes"`
	StoragePath  string `db:"storage_path"`
	ServingURL   string `db:"serving_url"`
	OwnerID      string `db:"owner_id"`
	CreatedAt    Date   `db:"created_at"`
}

// QRRepo stores metadata of rendered QR assets, one row per owner and variant.
type QRRepo struct {
	db *db.DB
}

func NewQRRepo(database *db.DB) *QRRepo {
	return &QRRepo{db: database}
}

func (r *QRRepo) Insert(ctx context.Context, variant string, rec internal.QRRecord) error {
	row := qrRow{
		ID:           rec.ID,
		Variant:      variant,
		ContentHash:  rec.ContentHash,
		CanonicalURL: rec.CanonicalURL,
		Format:       string(rec.Format),
		Size:         rec.Size,
		SizeBytes:    rec.SizeBytes,
		StoragePath:  rec.StoragePath,
		ServingURL:   rec.ServingURL,
		OwnerID:      rec.OwnerID,
		CreatedAt:    NewDate(rec.CreatedAt),
	}

	_, err := r.db.Goqu().Insert("qr_records").
		Rows(row).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert qr record: %w", err)
	}
	return nil
}

func (r *QRRepo) ListByOwner(ctx context.Context, ownerID string) ([]internal.QRRecord, error) {
	var rows []qrRow
	err := r.db.Goqu().From("qr_records").
		Select(&qrRow{}).
		Where(goqu.Ex{"owner_id": ownerID}).
		Order(goqu.C("created_at").Desc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list qr records: %w", err)
	}

	return lo.Map(rows, func(row qrRow, _ int) internal.QRRecord { return row.toDomain() }), nil
}

// GetVariant returns any stored record of variant; every owner shares the
// same asset, so they differ only in owner and creation time.
func (r *QRRepo) GetVariant(ctx context.Context, variant string) (internal.QRRecord, bool, error) {
	var row qrRow
	found, err := r.db.Goqu().From("qr_records").
		Select(&qrRow{}).
		Where(goqu.Ex{"variant": variant}).
		Order(goqu.C("created_at").Asc()).
		Limit(1).
		ScanStructContext(ctx, &row)
	if err != nil {
		return internal.QRRecord{}, false, fmt.Errorf("get qr variant %s: %w", variant, err)
	}
	return row.toDomain(), found, nil
}

// DeleteOwnerVariant removes ownerID's metadata row for variant.
func (r *QRRepo) DeleteOwnerVariant(ctx context.Context, ownerID, variant string) error {
	_, err := r.db.Goqu().Delete("qr_records").
		Where(goqu.Ex{"variant": variant, "owner_id": ownerID}).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete qr variant %s of %s: %w", variant, ownerID, err)
	}
	return nil
}

// CountVariant reports how many owners still reference variant.
func (r *QRRepo) CountVariant(ctx context.Context, variant string) (int64, error) {
	n, err := r.db.Goqu().From("qr_records").
		Where(goqu.Ex{"variant": variant}).
		CountContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("count qr variant %s: %w", variant, err)
	}
	return n, nil
}

func (row qrRow) toDomain() internal.QRRecord {
	return internal.QRRecord{
		ID:           row.ID,
		ContentHash:  row.ContentHash,
		CanonicalURL: row.CanonicalURL,
		Format:       internal.QRFormat(row.Format),
		Size:         row.Size,
		SizeBytes:    row.SizeBytes,
		StoragePath:  row.StoragePath,
		ServingURL:   row.ServingURL,
		OwnerID:      row.OwnerID,
		CreatedAt:    row.CreatedAt.Time(),
	}
}
