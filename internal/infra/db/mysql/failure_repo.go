package mysql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
	"github.com/bryanwahyu/docguard/internal/infra/db"
)

type FailureRepository struct {
	db *sql.DB
}

func NewFailureRepository(db *sql.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) SaveFailure(ctx context.Context, f *domain.StageFailure) error {
	const q = `
INSERT INTO analysis_failures
  (fingerprint, stage, kind, message, created_at)
VALUES (?,?,?,?,?)
`
	msg := f.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	_, err := r.db.ExecContext(ctx, q, f.Fingerprint, stringOrDash(string(f.Stage)), stringOrDash(string(f.Kind)), msg, db.CreatedAt(f.CreatedAt))
	return eris.Wrap(err, "insert analysis failure")
}

func (r *FailureRepository) ListFailures(ctx context.Context, fp domain.Fingerprint, limit int) ([]*domain.StageFailure, error) {
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	const q = `
SELECT id, fingerprint, stage, kind, message, created_at
FROM analysis_failures
WHERE fingerprint = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, fp, limit)
	if err != nil {
		return nil, eris.Wrap(err, "list analysis failures")
	}
	defer rows.Close()
	var out []*domain.StageFailure
	for rows.Next() {
		f, err := db.ScanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
