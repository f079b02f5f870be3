// Package database provides the relational store client and migration
// utilities. Two dialects are supported: an embedded SQLite store (the
// default) and PostgreSQL for shared deployments.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // register pure-Go sqlite driver
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect identifies the active SQL dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Client wraps the sqlx handle together with its dialect.
type Client struct {
	*sqlx.DB
	dialect Dialect
}

// Dialect returns the active SQL dialect.
func (c *Client) Dialect() Dialect {
	return c.dialect
}

// NewClient opens the store named by databaseURL, configures pooling, and
// applies pending migrations. Supported schemes: sqlite:// (embedded store,
// the default) and postgres:// / postgresql://.
func NewClient(ctx context.Context, databaseURL string) (*Client, error) {
	dialect, driver, dsn, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case DialectSQLite:
		// A single writer connection: SQLite serializes writes anyway, and
		// one long-lived connection keeps :memory: stores alive for tests.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case DialectPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{DB: db, dialect: dialect}
	if err := client.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return client, nil
}

// parseDatabaseURL maps a database URL to (dialect, sql driver name, DSN).
func parseDatabaseURL(raw string) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", "", fmt.Errorf("sqlite URL has no path")
		}
		return DialectSQLite, "sqlite", sqliteDSN(path), nil

	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		if _, err := url.Parse(raw); err != nil {
			return "", "", "", fmt.Errorf("invalid postgres URL: %w", err)
		}
		return DialectPostgres, "pgx", raw, nil

	default:
		return "", "", "", fmt.Errorf("unsupported database URL %q (expected sqlite:// or postgres://)", raw)
	}
}

// sqliteDSN decorates the store path with the pragmas every connection needs.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// runMigrations applies pending migrations for the active dialect from the
// embedded filesystem.
func (c *Client) runMigrations() error {
	dir := "migrations/" + string(c.dialect)
	if err := hasEmbeddedMigrations(dir); err != nil {
		return err
	}

	var driver migratedb.Driver
	var err error
	switch c.dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(c.DB.DB, &migratesqlite.Config{})
	case DialectPostgres:
		driver, err = migratepg.WithInstance(c.DB.DB, &migratepg.Config{})
	default:
		return fmt.Errorf("no migration driver for dialect %q", c.dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(c.dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB underneath the client.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations(dir string) error {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no embedded migrations for %s", dir)
		}
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return nil
		}
	}
	return fmt.Errorf("no .sql files under %s", dir)
}
