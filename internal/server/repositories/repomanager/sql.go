// Package repomanager provides the SQL RepositoryManager used by the node,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/migrations"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/documents"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/orders"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/subscriptions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Supported values of the database driver setting.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	sqlDriver string
	goose     string
	dir       string
}

var dialects = map[string]dialect{
	DriverPostgres: {sqlDriver: "pgx", goose: "pgx", dir: "postgres"},
	DriverSQLite:   {sqlDriver: "sqlite", goose: "sqlite3", dir: "sqlite"},
}

// SQLRepositoryManager vends SQL-backed repository implementations and
// exposes a schema migration hook for one dialect.
type SQLRepositoryManager struct {
	dialect dialect
}

func (m *SQLRepositoryManager) Documents(db dbx.DBTX) documents.Repository {
	return documents.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Subscriptions(db dbx.DBTX) subscriptions.Repository {
	return subscriptions.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Orders(db dbx.DBTX) orders.Repository {
	return orders.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewSQLRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// RunMigrations sets up goose with the embedded migrations of the dialect
// and runs them against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(m.dialect.goose); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, m.dialect.dir); err != nil {
		return err
	}
	return nil
}

// NewSQLRepositoryManager constructs a RepositoryManager for the driver
// name found in the configuration.
func NewSQLRepositoryManager(driver string) (RepositoryManager, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return &SQLRepositoryManager{dialect: d}, nil
}

// pingBackoff is a seam for tests.
var pingBackoff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Open opens the database for driver, waits until it answers a ping and
// applies pool settings the driver needs.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if driver == DriverSQLite {
		// one writer; concurrent connections would see SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	ping := func() error { return db.PingContext(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(pingBackoff(), ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}
	return db, nil
}
