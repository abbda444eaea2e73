// Package sqlite implements the storage capability interfaces on
// SQLite: the append-only event log with optimistic concurrency and a
// global change feed, the snapshot cache, the view store with
// conditional writes, and the relay checkpoint store. Pure Go driver,
// no CGo.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type config struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
}

func defaultConfig() config {
	return config{
		dsn:          "taskstream.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
	}
}

// Option configures Open.
type Option func(*config)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses an in-memory database, for tests.
func WithMemoryDatabase() Option {
	return func(c *config) {
		c.dsn = ":memory:"
		c.walMode = false
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

// WithWALMode toggles write-ahead logging. Recommended for production,
// unavailable for :memory: databases.
func WithWALMode(enabled bool) Option {
	return func(c *config) {
		c.walMode = enabled
	}
}

// Open opens the database, configures the pool and ensures the schema.
func Open(opts ...Option) (*sql.DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database must use a single connection; each
	// connection would otherwise get its own isolated database.
	if cfg.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if cfg.walMode {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			position       INTEGER PRIMARY KEY AUTOINCREMENT,
			aggregate_id   TEXT    NOT NULL,
			aggregate_type TEXT    NOT NULL,
			sequence       INTEGER NOT NULL,
			event_type     TEXT    NOT NULL,
			event_version  TEXT    NOT NULL,
			timestamp      INTEGER NOT NULL,
			payload        BLOB    NOT NULL,
			metadata       TEXT    NOT NULL,
			UNIQUE (aggregate_id, sequence)
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id   TEXT    NOT NULL,
			aggregate_type TEXT    NOT NULL,
			version        INTEGER NOT NULL,
			state          BLOB    NOT NULL,
			created_at     INTEGER NOT NULL,
			PRIMARY KEY (aggregate_id, version)
		);

		CREATE TABLE IF NOT EXISTS views (
			view_name TEXT    NOT NULL,
			view_id   TEXT    NOT NULL,
			version   INTEGER NOT NULL,
			payload   TEXT    NOT NULL,
			PRIMARY KEY (view_name, view_id)
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			consumer   TEXT    PRIMARY KEY,
			position   INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}
