package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ping mysql")
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS document_analyses (
  id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
  fingerprint CHAR(64) NOT NULL,
  md5 CHAR(32) NOT NULL,
  source VARCHAR(16) NOT NULL,
  source_name VARCHAR(2048) NOT NULL,
  priority_url TEXT NULL,
  risk_score VARCHAR(16) NOT NULL,
  reasoning TEXT NOT NULL,
  stages_json LONGTEXT NOT NULL,
  created_at DATETIME(6) NOT NULL,
  UNIQUE KEY uq_document_analyses_fingerprint (fingerprint)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS analysis_failures (
  id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
  fingerprint CHAR(64) NOT NULL,
  stage VARCHAR(32) NOT NULL,
  kind VARCHAR(16) NOT NULL,
  message TEXT NOT NULL,
  created_at DATETIME(6) NOT NULL,
  KEY idx_analysis_failures_fingerprint (fingerprint, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return eris.Wrap(err, "ensure mysql schema")
		}
	}
	return nil
}
