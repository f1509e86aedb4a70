package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var driver = "sqlite"

// DBTX is the minimal query execution contract shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Database wraps the shared sqlite connection and query instrumentation.
type Database struct {
	db      *sql.DB
	dbtx    DBTX
	tracker *queryLatencyTracker
}

// New opens the SQLite database at the provided path and runs migrations.
func New(path string, openParams ...string) (*Database, error) {
	if path == "" {
		path = "data/intake"
	}
	dsn := sqliteDSN(path, openParams...)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	tracker := newQueryLatencyTracker()

	return &Database{db: db, dbtx: newInstrumentedDBTX(db, tracker), tracker: tracker}, nil
}

func sqliteDSN(path string, openParams ...string) string {
	values := url.Values{}
	values.Set("_fk", "1")

	values.Add("_pragma", "foreign_keys(ON)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "temp_store(MEMORY)")
	values.Add("_pragma", "cache_size(-200000)")
	values.Add("_pragma", "wal_autocheckpoint(1000)")
	values.Add("_pragma", "optimize")

	for _, param := range openParams {
		part := strings.TrimSpace(strings.TrimPrefix(param, "&"))
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		values.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	return fmt.Sprintf("file:%s.sqlite?%s", path, values.Encode())
}

// WithTx runs fn inside a transaction, committing on nil error.
func (c *Database) WithTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(newInstrumentedDBTX(tx, c.tracker)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (c *Database) Close() error {
	return c.db.Close()
}
