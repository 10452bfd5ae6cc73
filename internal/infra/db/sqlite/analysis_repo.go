package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
	"github.com/bryanwahyu/docguard/internal/infra/db"
)

// AnalysisRepository implements analysis.Repository and analysis.FailureLog.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(conn *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: conn}
}

func (r *AnalysisRepository) Lookup(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	q := `SELECT ` + db.RecordColumns + ` FROM document_analyses WHERE fingerprint = ? LIMIT 1`
	rec, err := db.ScanRecord(r.db.QueryRowContext(ctx, q, string(fp)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "select analysis")
	}
	return rec, nil
}

func (r *AnalysisRepository) Insert(ctx context.Context, rec *domain.Record) (int64, error) {
	const q = `
INSERT INTO document_analyses
	(fingerprint, md5, source, source_name, priority_url, risk_score, reasoning, stages_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING id`

	stages, err := db.EncodeStages(rec)
	if err != nil {
		return 0, err
	}
	var score, reasoning string
	if rec.Risk != nil {
		score, reasoning = string(rec.Risk.Score), rec.Risk.Reasoning
	}

	var id int64
	err = r.db.QueryRowContext(ctx, q,
		string(rec.Fingerprint), rec.MD5, orDash(string(rec.Source)), orDash(rec.SourceName),
		db.NullString(rec.PriorityURL), orDash(score), reasoning, stages, formatTime(db.CreatedAt(rec.CreatedAt)),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAlreadyExists
	}
	if err != nil {
		return 0, eris.Wrap(err, "insert analysis")
	}
	return id, nil
}

func (r *AnalysisRepository) List(ctx context.Context, limit, offset int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + db.RecordColumns + ` FROM document_analyses ORDER BY id ASC LIMIT ? OFFSET ?`
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

func (r *AnalysisRepository) SaveFailure(ctx context.Context, f *domain.StageFailure) error {
	const q = `INSERT INTO analysis_failures (fingerprint, stage, kind, message, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, string(f.Fingerprint), orDash(string(f.Stage)), orDash(string(f.Kind)),
		orDash(f.Message), formatTime(db.CreatedAt(f.CreatedAt)))
	return eris.Wrap(err, "insert analysis failure")
}

func (r *AnalysisRepository) ListFailures(ctx context.Context, fp domain.Fingerprint, limit int) ([]*domain.StageFailure, error) {
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	const q = `
SELECT id, fingerprint, stage, kind, message, created_at
FROM analysis_failures
WHERE fingerprint = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, string(fp), limit)
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

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
