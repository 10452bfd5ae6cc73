package analysis

import (
	"strings"
	"time"
)

// Fingerprint is the lowercase hex SHA-256 of the raw document bytes.
type Fingerprint string

// Source tells where the document bytes came from
type Source string

const (
	SourceUpload Source = "upload"
	SourceURL    Source = "url"
)

// RiskScore enum
type RiskScore string

const (
	RiskSafe      RiskScore = "Safe"
	RiskLow       RiskScore = "Low"
	RiskMedium    RiskScore = "Medium"
	RiskHigh      RiskScore = "High"
	RiskMalicious RiskScore = "Malicious"
)

var riskScores = []RiskScore{RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskMalicious}

// ParseRiskScore maps a case-insensitive label onto the ordinal scale.
func ParseRiskScore(s string) (RiskScore, bool) {
	s = strings.TrimSpace(s)
	for _, r := range riskScores {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

// Request is one inbound analysis call: raw bytes or a fetchable locator.
type Request struct {
	Content  []byte
	URL      string
	Filename string
}

// Document is the validated input every first-tier stage receives.
type Document struct {
	Fingerprint Fingerprint
	Filename    string
	Content     []byte
}

// RiskyFeatures value object
type RiskyFeatures struct {
	JavaScript    bool `json:"javascript"`
	EmbeddedFiles bool `json:"embedded_files"`
	Encrypted     bool `json:"encrypted"`
	AcroForm      bool `json:"acro_form"`
	OpenAction    bool `json:"open_action"`
}

type StructuralReport struct {
	Metadata map[string]string `json:"metadata"`
	Features RiskyFeatures     `json:"features"`
	URLs     []string          `json:"urls"`
}

// ContextURL is a URL found in the text plus the characters around it.
type ContextURL struct {
	URL     string `json:"url"`
	Context string `json:"context"`
}

type ContentReport struct {
	Text string       `json:"text"`
	URLs []ContextURL `json:"urls"`
}

type VisualReport struct {
	DocumentType      string   `json:"document_type"`
	Layout            string   `json:"layout"`
	ProminentElements []string `json:"prominent_elements"`
	Anomalies         []string `json:"anomalies"`
	ImageRef          string   `json:"image_ref,omitempty"`
}

// DetectionStats mirrors the engine verdict counters of a file intelligence lookup
type DetectionStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
}

type FileReputation struct {
	Found            bool           `json:"found"`
	Stats            DetectionStats `json:"stats"`
	MaliciousEngines []string       `json:"malicious_engines,omitempty"`
	FirstSeen        *time.Time     `json:"first_seen,omitempty"`
	LastSeen         *time.Time     `json:"last_seen,omitempty"`
}

// URLReputation status values
const (
	ReputationPerformed   = "performed"
	ReputationUnavailable = "unavailable"
)

type VerdictSummary struct {
	Score      int      `json:"score"`
	Malicious  bool     `json:"malicious"`
	Categories []string `json:"categories,omitempty"`
}

type URLReputation struct {
	Status  string         `json:"status"`
	URL     string         `json:"url"`
	ScanID  string         `json:"scan_id,omitempty"`
	Verdict VerdictSummary `json:"verdict"`
	Error   string         `json:"error,omitempty"`
}

type RiskAssessment struct {
	Score     RiskScore `json:"risk_score"`
	Reasoning string    `json:"reasoning"`
}

// PrioritizeInput is the joined first-tier output the URL prioritizer sees.
type PrioritizeInput struct {
	StructuralURLs []string
	ContentURLs    []ContextURL
	Visual         *VisualReport
}

// Bundle is everything the risk synthesizer gets. URLReputationSkipped is
// set when no priority URL was selected and URLReputation is nil.
type Bundle struct {
	Fingerprint          Fingerprint       `json:"sha256"`
	MD5                  string            `json:"md5"`
	Structural           *StructuralReport `json:"structural_report"`
	Content              *ContentReport    `json:"content_report"`
	Visual               *VisualReport     `json:"visual_report"`
	FileReputation       *FileReputation   `json:"file_reputation"`
	PriorityURL          *string           `json:"priority_url"`
	URLReputation        *URLReputation    `json:"url_reputation"`
	URLReputationSkipped bool              `json:"url_reputation_not_performed"`
}

// Aggregate Root: Record. Immutable once inserted.
type Record struct {
	ID             int64             `json:"-"`
	Fingerprint    Fingerprint       `json:"fingerprint"`
	MD5            string            `json:"md5"`
	Source         Source            `json:"source"`
	SourceName     string            `json:"source_name"`
	Structural     *StructuralReport `json:"structural_report"`
	Content        *ContentReport    `json:"content_report"`
	Visual         *VisualReport     `json:"visual_report"`
	FileReputation *FileReputation   `json:"file_reputation"`
	PriorityURL    *string           `json:"priority_url"`
	URLReputation  *URLReputation    `json:"url_reputation,omitempty"`
	Risk           *RiskAssessment   `json:"risk"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StageFailure is a diagnostic row written when a pipeline run aborts.
// It never stands in for a Record.
type StageFailure struct {
	ID          int64       `json:"id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Stage       Stage       `json:"stage"`
	Kind        ErrorKind   `json:"kind"`
	Message     string      `json:"message"`
	CreatedAt   time.Time   `json:"created_at"`
}
