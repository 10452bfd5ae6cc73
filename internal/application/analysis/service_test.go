package analysis

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanwahyu/docguard/internal/application"
	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj << /Type /Catalog >> endobj\n%%EOF")

// fakeStage is a test helper that implements every stage port.
type fakeStage[I any, O any] struct {
	calls atomic.Int32
	fn    func(ctx context.Context, in I) (*O, error)
}

func (f *fakeStage[I, O]) Execute(ctx context.Context, in I) (*O, error) {
	f.calls.Add(1)
	return f.fn(ctx, in)
}

func (f *fakeStage[I, O]) count() int { return int(f.calls.Load()) }

type fakeStages struct {
	structural  *fakeStage[domain.Document, domain.StructuralReport]
	content     *fakeStage[domain.Document, domain.ContentReport]
	visual      *fakeStage[domain.Document, domain.VisualReport]
	fileRep     *fakeStage[domain.Fingerprint, domain.FileReputation]
	prioritizer *fakeStage[domain.PrioritizeInput, string]
	urlRep      *fakeStage[string, domain.URLReputation]
	synthesizer *fakeStage[domain.Bundle, domain.RiskAssessment]

	mu      sync.Mutex
	bundles []domain.Bundle
}

// newFakeStages answers every stage successfully; the prioritizer picks priority.
func newFakeStages(priority *string) *fakeStages {
	f := &fakeStages{}
	f.structural = &fakeStage[domain.Document, domain.StructuralReport]{fn: func(context.Context, domain.Document) (*domain.StructuralReport, error) {
		return &domain.StructuralReport{Metadata: map[string]string{}, URLs: []string{"https://a.test"}}, nil
	}}
	f.content = &fakeStage[domain.Document, domain.ContentReport]{fn: func(context.Context, domain.Document) (*domain.ContentReport, error) {
		return &domain.ContentReport{Text: "pay at https://b.test", URLs: []domain.ContextURL{{URL: "https://b.test", Context: "pay at https://b.test"}}}, nil
	}}
	f.visual = &fakeStage[domain.Document, domain.VisualReport]{fn: func(context.Context, domain.Document) (*domain.VisualReport, error) {
		return &domain.VisualReport{DocumentType: "invoice", Layout: "urgent"}, nil
	}}
	f.fileRep = &fakeStage[domain.Fingerprint, domain.FileReputation]{fn: func(context.Context, domain.Fingerprint) (*domain.FileReputation, error) {
		return &domain.FileReputation{Found: false}, nil
	}}
	f.prioritizer = &fakeStage[domain.PrioritizeInput, string]{fn: func(context.Context, domain.PrioritizeInput) (*string, error) {
		if priority == nil {
			return nil, nil
		}
		p := *priority
		return &p, nil
	}}
	f.urlRep = &fakeStage[string, domain.URLReputation]{fn: func(_ context.Context, u string) (*domain.URLReputation, error) {
		return &domain.URLReputation{ScanID: "scan-1", Verdict: domain.VerdictSummary{Score: 80, Malicious: true}}, nil
	}}
	f.synthesizer = &fakeStage[domain.Bundle, domain.RiskAssessment]{fn: func(_ context.Context, b domain.Bundle) (*domain.RiskAssessment, error) {
		f.mu.Lock()
		f.bundles = append(f.bundles, b)
		f.mu.Unlock()
		return &domain.RiskAssessment{Score: domain.RiskMedium, Reasoning: "mixed signals"}, nil
	}}
	return f
}

func (f *fakeStages) ports() domain.Stages {
	return domain.Stages{
		Structural:     f.structural,
		Content:        f.content,
		Visual:         f.visual,
		FileReputation: f.fileRep,
		Prioritizer:    f.prioritizer,
		URLReputation:  f.urlRep,
		Synthesizer:    f.synthesizer,
	}
}

func (f *fakeStages) firstTierCalls() [4]int {
	return [4]int{f.structural.count(), f.content.count(), f.visual.count(), f.fileRep.count()}
}

func (f *fakeStages) lastBundle(t *testing.T) domain.Bundle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bundles) == 0 {
		t.Fatal("synthesizer was never called")
	}
	return f.bundles[len(f.bundles)-1]
}

// memRepo is an in-memory Repository and FailureLog.
type memRepo struct {
	mu       sync.Mutex
	records  map[domain.Fingerprint]*domain.Record
	order    []domain.Fingerprint
	inserts  int
	failures []*domain.StageFailure
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[domain.Fingerprint]*domain.Record{}}
}

func (m *memRepo) Lookup(_ context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[fp]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) Insert(_ context.Context, r *domain.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.Fingerprint]; ok {
		return 0, domain.ErrAlreadyExists
	}
	m.inserts++
	cp := *r
	cp.ID = int64(m.inserts)
	m.records[r.Fingerprint] = &cp
	m.order = append(m.order, r.Fingerprint)
	return cp.ID, nil
}

func (m *memRepo) List(_ context.Context, limit, offset int) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Record
	for i := offset; i < len(m.order) && len(out) < limit; i++ {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

func (m *memRepo) SaveFailure(_ context.Context, f *domain.StageFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *memRepo) ListFailures(_ context.Context, fp domain.Fingerprint, limit int) ([]*domain.StageFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StageFailure
	for i := len(m.failures) - 1; i >= 0 && len(out) < limit; i-- {
		if m.failures[i].Fingerprint == fp {
			out = append(out, m.failures[i])
		}
	}
	return out, nil
}

func (m *memRepo) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeFetcher struct {
	body []byte
	err  error
}

func (f fakeFetcher) Fetch(context.Context, string) ([]byte, error) { return f.body, f.err }

func newService(repo *memRepo, stages *fakeStages, opts Options) *Service {
	return &Service{
		Repo:     repo,
		Failures: repo,
		Fetcher:  fakeFetcher{body: samplePDF},
		Stages:   stages.ports(),
		Clock:    application.FixedClock{At: time.Date(2025, 4, 30, 12, 0, 0, 0, time.UTC)},
		Options:  opts,
	}
}

func strPtr(s string) *string { return &s }

func downstreamStage(t *testing.T, err error) (domain.Stage, domain.ErrorKind) {
	t.Helper()
	var de *domain.DownstreamError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DownstreamError, got %T: %v", err, err)
	}
	return de.Stage, de.Kind()
}

func TestAnalyzeHappyPath(t *testing.T) {
	t.Parallel()

	t.Run("priority url triggers url reputation", func(t *testing.T) {
		t.Parallel()

		repo := newMemRepo()
		stages := newFakeStages(strPtr("https://b.test"))
		svc := newService(repo, stages, Options{})

		res, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF, Filename: "invoice.pdf"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Cached {
			t.Error("first analysis must not be cached")
		}
		rec := res.Record
		if rec.Fingerprint != Fingerprint(samplePDF) || rec.MD5 != FingerprintMD5(samplePDF) {
			t.Errorf("unexpected hashes %s/%s", rec.Fingerprint, rec.MD5)
		}
		if !rec.CreatedAt.Equal(time.Date(2025, 4, 30, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected created_at %s", rec.CreatedAt)
		}
		if rec.Source != domain.SourceUpload || rec.SourceName != "invoice.pdf" {
			t.Errorf("unexpected source %s/%s", rec.Source, rec.SourceName)
		}
		if rec.PriorityURL == nil || *rec.PriorityURL != "https://b.test" {
			t.Fatalf("unexpected priority url %v", rec.PriorityURL)
		}
		if rec.URLReputation == nil || rec.URLReputation.Status != domain.ReputationPerformed || rec.URLReputation.URL != "https://b.test" {
			t.Errorf("unexpected url reputation %+v", rec.URLReputation)
		}
		if rec.Risk.Score != domain.RiskMedium {
			t.Errorf("unexpected risk %+v", rec.Risk)
		}
		if stages.urlRep.count() != 1 {
			t.Errorf("expected 1 url reputation call, got %d", stages.urlRep.count())
		}
		b := stages.lastBundle(t)
		if b.URLReputationSkipped || b.URLReputation == nil {
			t.Errorf("synthesizer must see the url reputation, got %+v", b)
		}
		if repo.stored() != 1 {
			t.Errorf("expected 1 stored record, got %d", repo.stored())
		}
	})

	for _, answer := range []*string{nil, strPtr("null"), strPtr("  "), strPtr("None")} {
		name := "nil"
		if answer != nil {
			name = "literal " + *answer
		}
		t.Run("no priority url skips url reputation ("+name+")", func(t *testing.T) {
			t.Parallel()

			repo := newMemRepo()
			stages := newFakeStages(answer)
			svc := newService(repo, stages, Options{})

			res, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Record.PriorityURL != nil || res.Record.URLReputation != nil {
				t.Errorf("expected no priority url and no url reputation, got %v / %+v", res.Record.PriorityURL, res.Record.URLReputation)
			}
			if stages.urlRep.count() != 0 {
				t.Errorf("url reputation must not run, got %d calls", stages.urlRep.count())
			}
			if b := stages.lastBundle(t); !b.URLReputationSkipped || b.URLReputation != nil {
				t.Errorf("synthesizer must be told the url check was skipped, got %+v", b)
			}
		})
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stages := newFakeStages(strPtr("https://b.test"))
	svc := newService(repo, stages, Options{})
	ctx := context.Background()

	first, err := svc.Analyze(ctx, domain.Request{Content: samplePDF, Filename: "a.pdf"})
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	second, err := svc.Analyze(ctx, domain.Request{Content: append([]byte(nil), samplePDF...), Filename: "renamed.pdf"})
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}

	if !second.Cached {
		t.Error("second analysis must be served from the store")
	}
	if first.Record.Fingerprint != second.Record.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", first.Record.Fingerprint, second.Record.Fingerprint)
	}
	if second.Record.SourceName != "a.pdf" {
		t.Errorf("cached record must be returned unchanged, got source_name %q", second.Record.SourceName)
	}
	if AnalysisID(first.Record.Fingerprint) != AnalysisID(second.Record.Fingerprint) {
		t.Error("analysis id must be stable")
	}
	if got := stages.firstTierCalls(); got != [4]int{1, 1, 1, 1} {
		t.Errorf("stages must run once, got %v", got)
	}
	if stages.synthesizer.count() != 1 || repo.stored() != 1 {
		t.Errorf("expected 1 synthesis and 1 record, got %d and %d", stages.synthesizer.count(), repo.stored())
	}
}

func TestAnalyzeInputGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     domain.Request
		fetcher fakeFetcher
		wantMsg string
	}{
		{name: "nothing provided", req: domain.Request{}, wantMsg: "No file or URL provided"},
		{name: "blank url", req: domain.Request{URL: "   "}, wantMsg: "No file or URL provided"},
		{name: "not a pdf", req: domain.Request{Content: []byte("GIF89a")}, wantMsg: "Invalid document"},
		{name: "empty upload", req: domain.Request{Content: []byte{}}, wantMsg: "Invalid document"},
		{
			name:    "download failure",
			req:     domain.Request{URL: "https://example.com/a.pdf"},
			fetcher: fakeFetcher{err: errors.New("connection reset")},
			wantMsg: "Failed to download document",
		},
		{
			name:    "downloaded html",
			req:     domain.Request{URL: "https://example.com/a.pdf"},
			fetcher: fakeFetcher{body: []byte("<html>")},
			wantMsg: "Invalid document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newMemRepo()
			stages := newFakeStages(nil)
			svc := newService(repo, stages, Options{})
			svc.Fetcher = tt.fetcher

			_, err := svc.Analyze(context.Background(), tt.req)
			var ie *domain.InputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *InputError, got %v", err)
			}
			if ie.Msg != tt.wantMsg {
				t.Errorf("expected %q, got %q", tt.wantMsg, ie.Msg)
			}
			if got := stages.firstTierCalls(); got != [4]int{} {
				t.Errorf("no stage may run, got %v", got)
			}
			if repo.stored() != 0 {
				t.Error("nothing may be stored")
			}
		})
	}

	t.Run("downloaded pdf is analysed as url source", func(t *testing.T) {
		t.Parallel()

		svc := newService(newMemRepo(), newFakeStages(nil), Options{})
		res, err := svc.Analyze(context.Background(), domain.Request{URL: "https://example.com/a.pdf"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Record.Source != domain.SourceURL || res.Record.SourceName != "https://example.com/a.pdf" {
			t.Errorf("unexpected source %s/%s", res.Record.Source, res.Record.SourceName)
		}
	})
}

func TestAnalyzeFatalStageFailure(t *testing.T) {
	t.Parallel()

	boom := func(stage domain.Stage) error {
		return domain.StatusError(stage, http.StatusBadRequest, "bad input")
	}

	tests := []struct {
		name      string
		breakIt   func(f *fakeStages)
		wantStage domain.Stage
	}{
		{
			name: "structural",
			breakIt: func(f *fakeStages) {
				f.structural.fn = func(context.Context, domain.Document) (*domain.StructuralReport, error) {
					return nil, boom(domain.StageStructural)
				}
			},
			wantStage: domain.StageStructural,
		},
		{
			name: "file reputation",
			breakIt: func(f *fakeStages) {
				f.fileRep.fn = func(context.Context, domain.Fingerprint) (*domain.FileReputation, error) {
					return nil, boom(domain.StageFileReputation)
				}
			},
			wantStage: domain.StageFileReputation,
		},
		{
			name: "prioritizer",
			breakIt: func(f *fakeStages) {
				f.prioritizer.fn = func(context.Context, domain.PrioritizeInput) (*string, error) {
					return nil, boom(domain.StagePrioritizer)
				}
			},
			wantStage: domain.StagePrioritizer,
		},
		{
			name: "url reputation",
			breakIt: func(f *fakeStages) {
				f.urlRep.fn = func(context.Context, string) (*domain.URLReputation, error) {
					return nil, boom(domain.StageURLReputation)
				}
			},
			wantStage: domain.StageURLReputation,
		},
		{
			name: "synthesizer returns nothing",
			breakIt: func(f *fakeStages) {
				f.synthesizer.fn = func(context.Context, domain.Bundle) (*domain.RiskAssessment, error) {
					return nil, nil
				}
			},
			wantStage: domain.StageSynthesizer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newMemRepo()
			stages := newFakeStages(strPtr("https://b.test"))
			tt.breakIt(stages)
			svc := newService(repo, stages, Options{})

			_, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
			stage, _ := downstreamStage(t, err)
			if stage != tt.wantStage {
				t.Errorf("expected stage %s, got %s", tt.wantStage, stage)
			}
			if repo.stored() != 0 {
				t.Error("no record may be stored after a fatal failure")
			}
			if len(repo.failures) != 1 || repo.failures[0].Stage != tt.wantStage {
				t.Errorf("expected one failure for %s, got %+v", tt.wantStage, repo.failures)
			}
			if tt.wantStage != domain.StageSynthesizer && stages.synthesizer.count() != 0 {
				t.Error("synthesizer must not run after an earlier failure")
			}
		})
	}

	t.Run("first tier failure skips the rest", func(t *testing.T) {
		t.Parallel()

		repo := newMemRepo()
		stages := newFakeStages(strPtr("https://b.test"))
		stages.content.fn = func(context.Context, domain.Document) (*domain.ContentReport, error) {
			return nil, errors.New("socket closed")
		}
		svc := newService(repo, stages, Options{})

		_, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
		stage, kind := downstreamStage(t, err)
		if stage != domain.StageContent || kind != domain.KindTransport {
			t.Errorf("expected content/transport, got %s/%s", stage, kind)
		}
		if stages.prioritizer.count()+stages.urlRep.count()+stages.synthesizer.count() != 0 {
			t.Error("later stages must not run")
		}
	})
}

func TestAnalyzeStageTimeout(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stages := newFakeStages(nil)
	stages.visual.fn = func(ctx context.Context, _ domain.Document) (*domain.VisualReport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	svc := newService(repo, stages, Options{StageTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	stage, kind := downstreamStage(t, err)
	if stage != domain.StageVisual || kind != domain.KindTimeout {
		t.Errorf("expected visual/timeout, got %s/%s", stage, kind)
	}
	if repo.stored() != 0 {
		t.Error("no record may be stored")
	}
	fails, _ := repo.ListFailures(context.Background(), Fingerprint(samplePDF), 10)
	if len(fails) != 1 || fails[0].Kind != domain.KindTimeout {
		t.Errorf("expected one timeout failure, got %+v", fails)
	}
}

func TestAnalyzeDeduplicatesConcurrentRequests(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stages := newFakeStages(strPtr("https://b.test"))
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	stages.structural.fn = func(ctx context.Context, _ domain.Document) (*domain.StructuralReport, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &domain.StructuralReport{URLs: []string{"https://a.test"}}, nil
	}
	svc := newService(repo, stages, Options{})

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Record.Fingerprint != Fingerprint(samplePDF) {
			t.Errorf("caller %d got a different record", i)
		}
	}
	if got := stages.firstTierCalls(); got != [4]int{1, 1, 1, 1} {
		t.Errorf("each first-tier stage must run once, got %v", got)
	}
	if stages.prioritizer.count() != 1 || stages.urlRep.count() != 1 || stages.synthesizer.count() != 1 {
		t.Errorf("later stages must run once, got %d/%d/%d",
			stages.prioritizer.count(), stages.urlRep.count(), stages.synthesizer.count())
	}
	if repo.inserts != 1 {
		t.Errorf("expected exactly one insert, got %d", repo.inserts)
	}
}

func TestAnalyzeFollowerSurvivesCancelledLeader(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	stages := newFakeStages(nil)
	var first atomic.Bool
	started := make(chan struct{}, 1)
	stages.structural.fn = func(ctx context.Context, _ domain.Document) (*domain.StructuralReport, error) {
		if first.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &domain.StructuralReport{}, nil
	}
	svc := newService(repo, stages, Options{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.Analyze(leaderCtx, domain.Request{Content: samplePDF})
		leaderErr <- err
	}()
	<-started

	followerDone := make(chan struct{})
	var followerRes *Result
	var followerErr error
	go func() {
		defer close(followerDone)
		followerRes, followerErr = svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader: expected context.Canceled, got %v", err)
	}
	<-followerDone
	if followerErr != nil {
		t.Fatalf("follower: %v", followerErr)
	}
	if followerRes.Record == nil || repo.stored() != 1 {
		t.Errorf("follower must complete and store one record")
	}
	if len(repo.failures) != 0 {
		t.Errorf("a cancelled run is not a stage failure, got %+v", repo.failures)
	}
}

func TestAnalyzeRetriesReputationLookups(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "transient error is retried", status: http.StatusServiceUnavailable, attempts: 3, wantCalls: 2},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, attempts: 3, wantCalls: 2},
		{name: "client error is not retried", status: http.StatusForbidden, attempts: 3, wantCalls: 1, wantErr: true},
		{name: "retries disabled by default", status: http.StatusServiceUnavailable, attempts: 0, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stages := newFakeStages(nil)
			var n atomic.Int32
			stages.fileRep.fn = func(context.Context, domain.Fingerprint) (*domain.FileReputation, error) {
				if n.Add(1) == 1 {
					return nil, domain.StatusError(domain.StageFileReputation, tt.status, "try later")
				}
				return &domain.FileReputation{Found: true}, nil
			}
			svc := newService(newMemRepo(), stages, Options{RetryAttempts: tt.attempts, RetryBaseDelay: time.Millisecond})

			res, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
			if tt.wantErr {
				if stage, _ := downstreamStage(t, err); stage != domain.StageFileReputation {
					t.Errorf("expected file_reputation failure, got %s", stage)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !res.Record.FileReputation.Found {
					t.Error("expected the retried answer")
				}
			}
			if got := stages.fileRep.count(); got != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, got)
			}
		})
	}

	t.Run("llm stages are never retried", func(t *testing.T) {
		t.Parallel()

		stages := newFakeStages(nil)
		stages.synthesizer.fn = func(context.Context, domain.Bundle) (*domain.RiskAssessment, error) {
			return nil, domain.StatusError(domain.StageSynthesizer, http.StatusServiceUnavailable, "overloaded")
		}
		svc := newService(newMemRepo(), stages, Options{RetryAttempts: 3, RetryBaseDelay: time.Millisecond})
		if _, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF}); err == nil {
			t.Fatal("expected error")
		}
		if got := stages.synthesizer.count(); got != 1 {
			t.Errorf("expected 1 call, got %d", got)
		}
	})
}

func TestAnalyzeDegradedURLReputation(t *testing.T) {
	t.Parallel()

	stages := newFakeStages(strPtr("https://b.test"))
	stages.urlRep.fn = func(context.Context, string) (*domain.URLReputation, error) {
		return nil, domain.StatusError(domain.StageURLReputation, http.StatusBadGateway, "down")
	}
	svc := newService(newMemRepo(), stages, Options{DegradeURLReputation: true})

	res, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rep := res.Record.URLReputation
	if rep == nil || rep.Status != domain.ReputationUnavailable || rep.URL != "https://b.test" || rep.Error == "" {
		t.Errorf("expected an unavailable url reputation, got %+v", rep)
	}
	if b := stages.lastBundle(t); b.URLReputation == nil || b.URLReputation.Status != domain.ReputationUnavailable {
		t.Errorf("synthesizer must see the degraded reputation, got %+v", b.URLReputation)
	}
}

func TestPrioritizerSeesFirstTierOutput(t *testing.T) {
	t.Parallel()

	stages := newFakeStages(nil)
	var got domain.PrioritizeInput
	stages.prioritizer.fn = func(_ context.Context, in domain.PrioritizeInput) (*string, error) {
		got = in
		return nil, nil
	}
	svc := newService(newMemRepo(), stages, Options{})
	if _, err := svc.Analyze(context.Background(), domain.Request{Content: samplePDF}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.StructuralURLs) != 1 || len(got.ContentURLs) != 1 || got.Visual == nil || got.Visual.DocumentType != "invoice" {
		t.Errorf("unexpected prioritizer input %+v", got)
	}
}
