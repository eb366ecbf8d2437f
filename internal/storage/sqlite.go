package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocal(path, "sqlite database"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// query.timestamp is the start of the query in unix seconds; runtimes are
// microseconds.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_handler (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  string_id TEXT NOT NULL UNIQUE
);`,
		`CREATE TABLE IF NOT EXISTS query (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  execution_id TEXT,
  input        TEXT NOT NULL,
  cancelled    INTEGER NOT NULL DEFAULT 0,
  runtime_us   INTEGER NOT NULL DEFAULT 0,
  timestamp    INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS execution (
  query_id   INTEGER NOT NULL REFERENCES query(id) ON DELETE CASCADE,
  handler_id INTEGER NOT NULL REFERENCES query_handler(id) ON DELETE CASCADE,
  runtime_us INTEGER NOT NULL,
  PRIMARY KEY (query_id, handler_id)
);`,
		`CREATE TABLE IF NOT EXISTS activation (
  query_id INTEGER PRIMARY KEY REFERENCES query(id) ON DELETE CASCADE,
  item_id  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS conf (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS query_timestamp_idx ON query(timestamp);`,
		`CREATE INDEX IF NOT EXISTS execution_handler_idx ON execution(handler_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
