// Package virustotal looks up file hashes in the VirusTotal v3 API.
package virustotal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const (
	DefaultBaseURL  = "https://www.virustotal.com"
	maxResponseSize = 8 << 20
)

// Client is the FileReputationStage adapter.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

type fileResponse struct {
	Data *struct {
		Attributes struct {
			Stats               *domain.DetectionStats `json:"last_analysis_stats"`
			Results             map[string]struct {
				Category string `json:"category"`
			} `json:"last_analysis_results"`
			FirstSubmissionDate int64 `json:"first_submission_date"`
			LastSubmissionDate  int64 `json:"last_submission_date"`
		} `json:"attributes"`
	} `json:"data"`
}

// Execute fetches the report for fp. An unknown hash is a valid answer.
func (c *Client) Execute(ctx context.Context, fp domain.Fingerprint) (*domain.FileReputation, error) {
	const stage = domain.StageFileReputation

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/files/"+string(fp), nil)
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "create request"))
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "call virustotal"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "read response"))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &domain.FileReputation{Found: false}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, domain.StatusError(stage, resp.StatusCode, string(body))
	}

	var fr fileResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, domain.NewStageError(stage, domain.KindPayload, eris.Wrap(err, "decode file report"))
	}
	if fr.Data == nil || fr.Data.Attributes.Stats == nil {
		return nil, domain.NewStageError(stage, domain.KindPayload, eris.New("file report without analysis stats"))
	}
	attr := fr.Data.Attributes

	out := &domain.FileReputation{
		Found:     true,
		Stats:     *attr.Stats,
		FirstSeen: unixTime(attr.FirstSubmissionDate),
		LastSeen:  unixTime(attr.LastSubmissionDate),
	}
	for engine, r := range attr.Results {
		if r.Category == "malicious" {
			out.MaliciousEngines = append(out.MaliciousEngines, engine)
		}
	}
	sort.Strings(out.MaliciousEngines)
	return out, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
