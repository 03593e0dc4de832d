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
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
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

// OpenMemory opens an in-memory database with the schema applied. Test helper.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
  id                 TEXT PRIMARY KEY,
  created_at         TEXT NOT NULL,
  event_type         TEXT NOT NULL,
  contact_email      TEXT,
  contact_name       TEXT,
  tag                TEXT,
  tags               JSON,
  matched_membership TEXT,
  matched_course     TEXT,
  account_created    INTEGER NOT NULL DEFAULT 0,
  error              TEXT,
  fingerprint        TEXT,
  raw_payload        JSON
);`,
		`CREATE TABLE IF NOT EXISTS auth_users (
  id              TEXT PRIMARY KEY,
  email           TEXT NOT NULL UNIQUE,
  email_confirmed INTEGER NOT NULL DEFAULT 0,
  metadata        JSON NOT NULL DEFAULT '{}',
  created_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
  id                     TEXT PRIMARY KEY,
  auth_user_id           TEXT,
  email                  TEXT NOT NULL UNIQUE,
  first_name             TEXT,
  last_name              TEXT,
  has_platform_access    INTEGER NOT NULL DEFAULT 0,
  is_active              INTEGER NOT NULL DEFAULT 0,
  membership_level       TEXT,
  membership_features    JSON,
  trial_ends_at          TEXT,
  auto_renew             INTEGER NOT NULL DEFAULT 1,
  subscription_status    TEXT,
  magic_token            TEXT,
  magic_token_expires_at TEXT,
  cancelled_at           TEXT,
  created_at             TEXT NOT NULL,
  updated_at             TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_created_at_idx ON webhook_events(created_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_contact_email_idx ON webhook_events(contact_email);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
