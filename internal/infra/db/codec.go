// Package db holds what the SQL result stores share: the JSON column codec
// and the row scanner. Engine specific SQL lives in the sub packages.
package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

// DefaultListLimit is used when a caller asks for a non-positive page size.
const DefaultListLimit = 20

// stages is the JSON document kept in the stages_json column.
type stages struct {
	Structural     *domain.StructuralReport `json:"structural_report"`
	Content        *domain.ContentReport    `json:"content_report"`
	Visual         *domain.VisualReport     `json:"visual_report"`
	FileReputation *domain.FileReputation   `json:"file_reputation"`
	URLReputation  *domain.URLReputation    `json:"url_reputation,omitempty"`
}

// EncodeStages serialises the stage bundle of r.
func EncodeStages(r *domain.Record) (string, error) {
	b, err := json.Marshal(stages{
		Structural:     r.Structural,
		Content:        r.Content,
		Visual:         r.Visual,
		FileReputation: r.FileReputation,
		URLReputation:  r.URLReputation,
	})
	if err != nil {
		return "", eris.Wrap(err, "encode stage bundle")
	}
	return string(b), nil
}

// NullString maps a nil priority URL onto SQL NULL.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// RecordColumns is the select list understood by ScanRecord.
const RecordColumns = `id, fingerprint, md5, source, source_name, priority_url, risk_score, reasoning, stages_json, created_at`

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanRecord reads one row selected with RecordColumns.
func ScanRecord(row Scanner) (*domain.Record, error) {
	var (
		r        domain.Record
		priority sql.NullString
		score    string
		reason   string
		raw      string
		created  Timestamp
	)
	if err := row.Scan(&r.ID, &r.Fingerprint, &r.MD5, &r.Source, &r.SourceName,
		&priority, &score, &reason, &raw, &created); err != nil {
		return nil, err
	}
	var st stages
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, eris.Wrapf(err, "decode stage bundle of %s", r.Fingerprint)
	}
	if priority.Valid {
		p := priority.String
		r.PriorityURL = &p
	}
	r.Structural = st.Structural
	r.Content = st.Content
	r.Visual = st.Visual
	r.FileReputation = st.FileReputation
	r.URLReputation = st.URLReputation
	r.Risk = &domain.RiskAssessment{Score: domain.RiskScore(score), Reasoning: reason}
	r.CreatedAt = created.Time
	return &r, nil
}

// ScanFailure reads one analysis_failures row.
func ScanFailure(row Scanner) (*domain.StageFailure, error) {
	var f domain.StageFailure
	var created Timestamp
	if err := row.Scan(&f.ID, &f.Fingerprint, &f.Stage, &f.Kind, &f.Message, &created); err != nil {
		return nil, err
	}
	f.CreatedAt = created.Time
	return &f, nil
}

// timestampFormats are the text layouts drivers without native time
// support hand back.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp scans DATETIME columns whether the driver returns time.Time or text.
type Timestamp struct{ time.Time }

func (t *Timestamp) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return eris.Errorf("unsupported timestamp type %T", v)
}

func (t *Timestamp) parse(s string) error {
	for _, layout := range timestampFormats {
		if p, err := time.Parse(layout, s); err == nil {
			t.Time = p.UTC()
			return nil
		}
	}
	return eris.Errorf("unparsable timestamp %q", s)
}

// CreatedAt falls back to now when the record carries no timestamp.
func CreatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
