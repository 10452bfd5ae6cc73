// Package urlscan submits URLs to urlscan.io and waits for the verdict.
package urlscan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const (
	DefaultBaseURL      = "https://urlscan.io"
	DefaultPollInterval = 5 * time.Second
	// 10 x 5s stays inside the default 60s stage timeout
	DefaultPollAttempts = 10
	maxResponseSize     = 8 << 20
)

// Options for the URLReputationStage adapter.
type Options struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollAttempts int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client is the URLReputationStage adapter.
type Client struct {
	baseURL  string
	apiKey   string
	interval time.Duration
	attempts int
	http     *http.Client
	log      *zap.Logger
}

func NewClient(o Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(o.BaseURL, "/"),
		apiKey:   o.APIKey,
		interval: o.PollInterval,
		attempts: o.PollAttempts,
		http:     o.HTTPClient,
		log:      o.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.attempts <= 0 {
		c.attempts = DefaultPollAttempts
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

type submitRequest struct {
	URL        string `json:"url"`
	Visibility string `json:"visibility"`
}

type submitResponse struct {
	UUID   string `json:"uuid"`
	Result string `json:"result"`
}

type resultResponse struct {
	Verdicts *struct {
		Overall struct {
			Score      int      `json:"score"`
			Malicious  bool     `json:"malicious"`
			Categories []string `json:"categories"`
		} `json:"overall"`
	} `json:"verdicts"`
}

// Execute submits target as a public scan and polls for the result.
func (c *Client) Execute(ctx context.Context, target string) (*domain.URLReputation, error) {
	scanID, err := c.submit(ctx, target)
	if err != nil {
		return nil, err
	}
	log := c.log.With(zap.String("scan_id", scanID))
	log.Debug("url submitted for scanning")

	for attempt := 1; attempt <= c.attempts; attempt++ {
		t := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			// NewStageError turns an expired deadline into KindTimeout
			return nil, domain.NewStageError(domain.StageURLReputation, domain.KindTransport, ctx.Err())
		case <-t.C:
		}

		res, ready, err := c.result(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if !ready {
			log.Debug("scan result not ready", zap.Int("attempt", attempt))
			continue
		}
		v := res.Verdicts.Overall
		return &domain.URLReputation{
			Status: domain.ReputationPerformed,
			URL:    target,
			ScanID: scanID,
			Verdict: domain.VerdictSummary{
				Score:      v.Score,
				Malicious:  v.Malicious,
				Categories: v.Categories,
			},
		}, nil
	}
	return nil, domain.NewStageError(domain.StageURLReputation, domain.KindTimeout,
		eris.Errorf("scan %s not finished after %d polls", scanID, c.attempts))
}

func (c *Client) submit(ctx context.Context, target string) (string, error) {
	payload, err := json.Marshal(submitRequest{URL: target, Visibility: "public"})
	if err != nil {
		return "", domain.NewStageError(domain.StageURLReputation, domain.KindTransport, eris.Wrap(err, "encode submission"))
	}
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/scan/", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", domain.StatusError(domain.StageURLReputation, status, string(body))
	}
	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", domain.NewStageError(domain.StageURLReputation, domain.KindPayload, eris.Wrap(err, "decode submission"))
	}
	if sr.UUID == "" {
		return "", domain.NewStageError(domain.StageURLReputation, domain.KindPayload, eris.New("submission without uuid"))
	}
	return sr.UUID, nil
}

// result reports ready=false while urlscan still answers 404 for the scan.
func (c *Client) result(ctx context.Context, scanID string) (*resultResponse, bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/v1/result/"+scanID+"/", nil)
	if err != nil {
		return nil, false, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, domain.StatusError(domain.StageURLReputation, status, string(body))
	}
	var rr resultResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, false, domain.NewStageError(domain.StageURLReputation, domain.KindPayload, eris.Wrap(err, "decode result"))
	}
	if rr.Verdicts == nil {
		return nil, false, domain.NewStageError(domain.StageURLReputation, domain.KindPayload, eris.New("result without verdicts"))
	}
	return &rr, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, domain.NewStageError(domain.StageURLReputation, domain.KindTransport, eris.Wrap(err, "create request"))
	}
	req.Header.Set("API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, domain.NewStageError(domain.StageURLReputation, domain.KindTransport, eris.Wrapf(err, "call urlscan %s", path))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, domain.NewStageError(domain.StageURLReputation, domain.KindTransport, eris.Wrap(err, "read response"))
	}
	return resp.StatusCode, body, nil
}
