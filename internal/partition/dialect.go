package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/linkpage/internal/db"
	"github.com/doug-martin/goqu/v9"
)

// Dialect hides how a database represents monthly partitions.
type Dialect interface {
	Exists(ctx context.Context, p Partition) (bool, error)
	Create(ctx context.Context, p Partition) error
	// Target is the table that inserts for p must be written to.
	Target(p Partition) string
}

func NewDialect(database *db.DB) Dialect {
	if database.IsPostgres() {
		return postgresDialect{db: database}
	}
	return sqliteDialect{db: database}
}

// sqliteDialect has no declarative partitioning, so each month is a table of
// its own with a CHECK on the range and writes go straight to it.
type sqliteDialect struct {
	db *db.DB
}

func (d sqliteDialect) Exists(ctx context.Context, p Partition) (bool, error) {
	n, err := d.db.Goqu().From("sqlite_master").
		Where(goqu.Ex{"type": "table", "name": p.Name()}).
		CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("introspect %s: %w", p.Name(), err)
	}
	return n > 0, nil
}

func (d sqliteDialect) Create(ctx context.Context, p Partition) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		device TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL CHECK (occurred_at >= '%[2]s' AND occurred_at < '%[3]s')
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_subject ON %[1]s(subject_id, occurred_at);
	`, p.Name(), p.RangeStart.Format(time.RFC3339), p.RangeEnd.Format(time.RFC3339))

	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", p.Name(), err)
	}
	return nil
}

func (d sqliteDialect) Target(p Partition) string {
	return p.Name()
}

// postgresDialect attaches native range partitions to the parent tables
// created by the base schema; writes go through the parent.
type postgresDialect struct {
	db *db.DB
}

func (d postgresDialect) Exists(ctx context.Context, p Partition) (bool, error) {
	n, err := d.db.Goqu().From(goqu.T("pg_class").Schema("pg_catalog")).
		Where(goqu.Ex{"relname": p.Name(), "relkind": []string{"r", "p"}}).
		CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("introspect %s: %w", p.Name(), err)
	}
	return n > 0, nil
}

func (d postgresDialect) Create(ctx context.Context, p Partition) error {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		p.Name(), p.Table, p.RangeStart.Format(time.RFC3339), p.RangeEnd.Format(time.RFC3339),
	)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", p.Name(), err)
	}
	return nil
}

func (d postgresDialect) Target(p Partition) string {
	return p.Table
}
