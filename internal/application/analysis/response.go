package analysis

import (
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

// maxViewText bounds the extracted text shown to callers.
const maxViewText = 1000

// analysisNamespace seeds the caller-facing analysis ids.
var analysisNamespace = uuid.MustParse("6f1c52a4-3d0e-4b8c-9a55-2f0b7d1e9c41")

// View is the externally visible shape of a stored analysis.
type View struct {
	AnalysisID     string                   `json:"analysis_id"`
	Fingerprint    string                   `json:"fingerprint"`
	MD5            string                   `json:"md5"`
	Source         string                   `json:"source"`
	SourceName     string                   `json:"source_name"`
	RiskScore      string                   `json:"risk_score"`
	Reasoning      string                   `json:"reasoning"`
	Structural     *domain.StructuralReport `json:"structural"`
	Content        *domain.ContentReport    `json:"content"`
	Visual         *domain.VisualReport     `json:"visual"`
	FileReputation *domain.FileReputation   `json:"file_reputation"`
	PriorityURL    *string                  `json:"priority_url"`
	URLReputation  *domain.URLReputation    `json:"url_reputation,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	Cached         bool                     `json:"cached"`
}

// AnalysisID derives the public id from the fingerprint, so the same content
// always gets the same id and the storage row id never leaks.
func AnalysisID(fp domain.Fingerprint) string {
	return uuid.NewSHA1(analysisNamespace, []byte(fp)).String()
}

// ToExternalView projects a record onto the response contract.
func ToExternalView(r *domain.Record, cached bool) View {
	v := View{
		AnalysisID:     AnalysisID(r.Fingerprint),
		Fingerprint:    string(r.Fingerprint),
		MD5:            r.MD5,
		Source:         string(r.Source),
		SourceName:     r.SourceName,
		Structural:     r.Structural,
		Visual:         r.Visual,
		FileReputation: r.FileReputation,
		PriorityURL:    r.PriorityURL,
		URLReputation:  r.URLReputation,
		CreatedAt:      r.CreatedAt,
		Cached:         cached,
	}
	if r.Risk != nil {
		v.RiskScore = string(r.Risk.Score)
		v.Reasoning = r.Risk.Reasoning
	}
	if r.Content != nil {
		c := *r.Content
		if runes := []rune(c.Text); len(runes) > maxViewText {
			c.Text = string(runes[:maxViewText])
		}
		v.Content = &c
	}
	return v
}

// ToExternalViews projects a page of records.
func ToExternalViews(rs []*domain.Record) []View {
	out := make([]View, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToExternalView(r, true))
	}
	return out
}
