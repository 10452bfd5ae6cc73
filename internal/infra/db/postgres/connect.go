package postgres

import (
    "context"
    "database/sql"
    "time"

    _ "github.com/lib/pq"
    "github.com/rotisserie/eris"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
    db, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, eris.Wrap(err, "open postgres")
    }
    db.SetMaxOpenConns(25)
    db.SetMaxIdleConns(10)
    db.SetConnMaxLifetime(30 * time.Minute)

    ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx2); err != nil {
        db.Close()
        return nil, eris.Wrap(err, "ping postgres")
    }
    return db, nil
}

var schema = []string{
    `CREATE TABLE IF NOT EXISTS document_analyses (
  id BIGSERIAL PRIMARY KEY,
  fingerprint CHAR(64) NOT NULL UNIQUE,
  md5 CHAR(32) NOT NULL,
  source VARCHAR(16) NOT NULL,
  source_name TEXT NOT NULL,
  priority_url TEXT NULL,
  risk_score VARCHAR(16) NOT NULL,
  reasoning TEXT NOT NULL,
  stages_json JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
    `CREATE TABLE IF NOT EXISTS analysis_failures (
  id BIGSERIAL PRIMARY KEY,
  fingerprint CHAR(64) NOT NULL,
  stage VARCHAR(32) NOT NULL,
  kind VARCHAR(16) NOT NULL,
  message TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
    `CREATE INDEX IF NOT EXISTS idx_analysis_failures_fingerprint ON analysis_failures (fingerprint, created_at)`,
}

// EnsureSchema creates the tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
    for _, q := range schema {
        if _, err := db.ExecContext(ctx, q); err != nil {
            return eris.Wrap(err, "ensure postgres schema")
        }
    }
    return nil
}
