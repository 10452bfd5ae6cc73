// Package sqlite is the embedded result store. It needs no server and is the
// default backend for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS document_analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL UNIQUE,
	md5 TEXT NOT NULL,
	source TEXT NOT NULL,
	source_name TEXT NOT NULL,
	priority_url TEXT NULL,
	risk_score TEXT NOT NULL,
	reasoning TEXT NOT NULL,
	stages_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	stage TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_failures_fingerprint ON analysis_failures(fingerprint, created_at);
`

// Open opens (creating when needed) the database file at path and makes
// sure the schema exists.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, eris.Wrap(err, "create database directory")
		}
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "enable WAL")
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "ensure sqlite schema")
	}
	return nil
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
