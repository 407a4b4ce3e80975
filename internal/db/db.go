package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DB struct {
	*sql.DB
	Driver string
}

// Goqu returns a query builder bound to the connection pool.
func (d *DB) Goqu() *goqu.Database {
	return goqu.New(d.Driver, d.DB)
}

func (d *DB) IsPostgres() bool {
	return d.Driver == DriverPostgres
}

// Open connects to Postgres when dsn is a postgres:// URL and to a SQLite
// file otherwise, then applies the base schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	driver, source := DriverSQLite, formatDBPath(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, source = DriverPostgres, dsn
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		log.Error().Err(err).Str("driver", driver).Msg("failed to open database")
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		log.Error().Err(err).Str("driver", driver).Msg("failed to ping database")
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("database connection successful")

	d := &DB{DB: conn, Driver: driver}
	if err := d.migrate(ctx); err != nil {
		log.Error().Err(err).Msg("failed to run migrations")
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Str("driver", driver).Msg("migrations completed successfully")

	return d, nil
}

func formatDBPath(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		path = "linkpage.db"
	}

	// Add pragmas for better performance and safety
	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Set("_txlock", "immediate")
	params.Set("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(10000)")

	return "file:" + path + "?" + params.Encode()
}

func (d *DB) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if d.IsPostgres() {
		schema = postgresSchema
	}
	_, err := d.ExecContext(ctx, schema)
	return err
}
