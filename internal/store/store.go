package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking (SQLite user_version):
// 0 - pre-migration
// 1 - initial clustering schema
const currentSchemaVersion = 1

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config selects and configures the backing database.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a file path for SQLite or a connection URL for Postgres.
	DSN string
	// MaxConns bounds the connection pool for Postgres. SQLite is
	// always limited to a single connection (single writer).
	MaxConns int
}

// Store provides durable storage for records, match-key configurations,
// code modules and cluster bookkeeping tables.
//
// Two backends are supported: SQLite (embedded, used by tests and
// single-node deployments) and PostgreSQL. All SQL is written in the
// common dialect of the two: $N placeholders, ON CONFLICT upserts with
// RETURNING, and IF NOT EXISTS DDL.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens the database described by cfg, applies driver-specific
// settings and creates the schema if needed. Idempotent.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch cfg.Driver {
	case DriverSQLite:
		// SQLite supports one writer at a time; a single pooled
		// connection avoids SQLITE_BUSY under concurrent ingests.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	case DriverPostgres:
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a transaction. The cluster engine composes its
// per-record upserts from tx-scoped Store methods inside one of these.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables and indexes if they don't exist.
// Statements are executed one at a time: the pgx driver uses the
// extended query protocol which rejects multi-statement strings.
func (s *Store) applySchema() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	if s.driver == DriverSQLite {
		if err := s.runMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

// runMigrations stamps the SQLite user_version after the schema has
// been applied. Future incremental migrations hang off the version
// check here, the way new unique indexes were added in the past.
func (s *Store) runMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
