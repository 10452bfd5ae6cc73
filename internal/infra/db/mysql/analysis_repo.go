package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
	"github.com/bryanwahyu/docguard/internal/infra/db"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Lookup by fingerprint
func (r *AnalysisRepository) Lookup(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	q := `SELECT ` + db.RecordColumns + ` FROM document_analyses WHERE fingerprint=? LIMIT 1;`
	rec, err := db.ScanRecord(r.db.QueryRowContext(ctx, q, fp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "select analysis")
	}
	return rec, nil
}

// Insert writes a new record. The unique key on fingerprint turns a second
// insert into a no-op which is reported as ErrAlreadyExists.
func (r *AnalysisRepository) Insert(ctx context.Context, rec *domain.Record) (int64, error) {
	const q = `
INSERT INTO document_analyses
 (fingerprint, md5, source, source_name, priority_url, risk_score, reasoning, stages_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE id=id;
`
	stages, err := db.EncodeStages(rec)
	if err != nil {
		return 0, err
	}
	var score, reasoning string
	if rec.Risk != nil {
		score, reasoning = string(rec.Risk.Score), rec.Risk.Reasoning
	}
	res, err := r.db.ExecContext(ctx, q,
		rec.Fingerprint, rec.MD5, stringOrDash(string(rec.Source)), stringOrDash(rec.SourceName),
		db.NullString(rec.PriorityURL), stringOrDash(score), reasoning, stages, db.CreatedAt(rec.CreatedAt),
	)
	if err != nil {
		return 0, eris.Wrap(err, "insert analysis")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "insert analysis")
	}
	if n == 0 {
		return 0, domain.ErrAlreadyExists
	}
	return res.LastInsertId()
}

// List returns records in insertion order
func (r *AnalysisRepository) List(ctx context.Context, limit, offset int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + db.RecordColumns + ` FROM document_analyses ORDER BY id ASC LIMIT ? OFFSET ?;`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "list analyses")
	}
	defer rows.Close()

	out := make([]*domain.Record, 0, limit)
	for rows.Next() {
		rec, err := db.ScanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan analysis row")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
