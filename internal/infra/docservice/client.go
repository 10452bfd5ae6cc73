// Package docservice talks to the document processing service that parses
// PDFs, extracts their text and renders pages. The service is stateless; every
// call uploads the document as multipart field "file".
package docservice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const (
	defaultTimeout  = 60 * time.Second
	maxResponseSize = 16 << 20
)

// Client is shared by the structural, content and render calls.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. A nil httpClient
// gets one with a 60s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// post uploads doc to path and returns the raw success body.
func (c *Client) post(ctx context.Context, stage domain.Stage, path string, doc domain.Document) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := doc.Filename
	if name == "" {
		name = "document.pdf"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "build multipart body"))
	}
	if _, err := fw.Write(doc.Content); err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "build multipart body"))
	}
	if err := mw.Close(); err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "build multipart body"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "create request"))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrapf(err, "call document service %s", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "read response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.StatusError(stage, resp.StatusCode, string(body))
	}
	if len(body) > maxResponseSize {
		return nil, domain.NewStageError(stage, domain.KindPayload, eris.Errorf("response exceeded %d bytes", maxResponseSize))
	}
	return body, nil
}

func decode(stage domain.Stage, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewStageError(stage, domain.KindPayload, eris.Wrap(err, "decode response"))
	}
	return nil
}

// Structural is the StructuralStage adapter (POST /structural).
type Structural struct{ *Client }

type structuralPayload struct {
	Metadata map[string]string     `json:"metadata"`
	Features *domain.RiskyFeatures `json:"features"`
	URLs     []string              `json:"urls"`
}

func (s Structural) Execute(ctx context.Context, doc domain.Document) (*domain.StructuralReport, error) {
	body, err := s.post(ctx, domain.StageStructural, "/structural", doc)
	if err != nil {
		return nil, err
	}
	var p structuralPayload
	if err := decode(domain.StageStructural, body, &p); err != nil {
		return nil, err
	}
	if p.Features == nil {
		return nil, domain.NewStageError(domain.StageStructural, domain.KindPayload, eris.New("missing features"))
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if p.URLs == nil {
		p.URLs = []string{}
	}
	return &domain.StructuralReport{Metadata: p.Metadata, Features: *p.Features, URLs: p.URLs}, nil
}

// Content is the ContentStage adapter (POST /content).
type Content struct{ *Client }

type contentPayload struct {
	Text *string             `json:"text"`
	URLs []domain.ContextURL `json:"urls"`
}

func (c Content) Execute(ctx context.Context, doc domain.Document) (*domain.ContentReport, error) {
	body, err := c.post(ctx, domain.StageContent, "/content", doc)
	if err != nil {
		return nil, err
	}
	var p contentPayload
	if err := decode(domain.StageContent, body, &p); err != nil {
		return nil, err
	}
	if p.Text == nil {
		return nil, domain.NewStageError(domain.StageContent, domain.KindPayload, eris.New("missing text"))
	}
	urls := make([]domain.ContextURL, 0, len(p.URLs))
	for _, u := range p.URLs {
		if strings.TrimSpace(u.URL) == "" {
			return nil, domain.NewStageError(domain.StageContent, domain.KindPayload, eris.New("url entry without url"))
		}
		urls = append(urls, u)
	}
	return &domain.ContentReport{Text: *p.Text, URLs: urls}, nil
}

// Render returns the first page of doc as a PNG image (POST /render).
// Failures are reported against the visual stage, the only caller.
func (c *Client) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	body, err := c.post(ctx, domain.StageVisual, "/render", doc)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(body, pngMagic) {
		return nil, domain.NewStageError(domain.StageVisual, domain.KindPayload, eris.New("render did not return a PNG image"))
	}
	return body, nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")
