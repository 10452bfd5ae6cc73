package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/docguard/internal/application"
	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const defaultStageTimeout = 60 * time.Second

// Options tune the failure policy of the pipeline.
type Options struct {
	// StageTimeout bounds every single collaborator call.
	StageTimeout time.Duration

	// RetryAttempts applies to the idempotent reputation lookups only.
	// Values below 2 disable retries.
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// DegradeURLReputation records an "unavailable" URL reputation instead
	// of aborting when that stage fails.
	DegradeURLReputation bool
}

// Service is the analysis orchestrator. It is safe for concurrent use; the
// exported fields must not change after the first call to Analyze.
type Service struct {
	Repo     domain.Repository
	Failures domain.FailureLog // optional
	Fetcher  domain.Fetcher
	Stages   domain.Stages
	Clock    application.Clock
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Options  Options

	flight singleflight.Group
}

// Result is what Analyze hands back. Cached is true when no stage ran.
type Result struct {
	Record *domain.Record
	Cached bool
}

// errLeaderCancelled marks a shared run that stopped because the caller
// driving it went away, not because a collaborator failed.
type errLeaderCancelled struct{ err error }

func (e *errLeaderCancelled) Error() string { return "shared analysis cancelled: " + e.err.Error() }
func (e *errLeaderCancelled) Unwrap() error { return e.err }

// Analyze validates the request, serves it from the store when the content
// was seen before, and otherwise runs the stage graph once per fingerprint.
func (s *Service) Analyze(ctx context.Context, req domain.Request) (*Result, error) {
	doc, source, name, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	log := s.logger().With(zap.String("fingerprint", string(doc.Fingerprint)))

	rec, err := s.lookup(ctx, doc.Fingerprint)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		log.Info("returning cached analysis")
		return &Result{Record: rec, Cached: true}, nil
	}

	for {
		ch := s.flight.DoChan(string(doc.Fingerprint), func() (any, error) {
			return s.compute(ctx, doc, source, name)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				var lc *errLeaderCancelled
				if errors.As(res.Err, &lc) && ctx.Err() == nil {
					log.Debug("shared analysis was cancelled by its leader, retrying")
					continue
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, res.Err
			}
			return res.Val.(*Result), nil
		}
	}
}

// Get returns the stored record for a fingerprint.
func (s *Service) Get(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	return s.Repo.Lookup(ctx, fp)
}

// List returns stored records in insertion order.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*domain.Record, error) {
	if offset < 0 {
		offset = 0
	}
	return s.Repo.List(ctx, limit, offset)
}

// ListFailures returns the newest recorded stage failures for a fingerprint.
func (s *Service) ListFailures(ctx context.Context, fp domain.Fingerprint, limit int) ([]*domain.StageFailure, error) {
	if s.Failures == nil {
		return nil, nil
	}
	return s.Failures.ListFailures(ctx, fp, limit)
}

func (s *Service) resolve(ctx context.Context, req domain.Request) (domain.Document, domain.Source, string, error) {
	var (
		content []byte
		source  domain.Source
		name    string
	)
	switch {
	case req.Content != nil:
		content, source, name = req.Content, domain.SourceUpload, req.Filename
	case strings.TrimSpace(req.URL) != "":
		if s.Fetcher == nil {
			return domain.Document{}, "", "", &domain.InputError{Msg: "URL input is not supported"}
		}
		b, err := s.Fetcher.Fetch(ctx, req.URL)
		if err != nil {
			s.logger().Warn("document download failed", zap.String("url", req.URL), zap.Error(err))
			return domain.Document{}, "", "", &domain.InputError{Msg: "Failed to download document", Err: err}
		}
		content, source, name = b, domain.SourceURL, req.URL
	default:
		return domain.Document{}, "", "", &domain.InputError{Msg: "No file or URL provided"}
	}
	if !IsDocument(content) {
		return domain.Document{}, "", "", &domain.InputError{Msg: "Invalid document"}
	}
	if name == "" {
		name = "document.pdf"
	}
	doc := domain.Document{
		Fingerprint: Fingerprint(content),
		Filename:    name,
		Content:     content,
	}
	return doc, source, name, nil
}

func (s *Service) lookup(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	rec, err := s.Repo.Lookup(ctx, fp)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lookup analysis %s", fp)
	}
	return rec, nil
}

// compute runs inside the single-flight section for doc.Fingerprint.
func (s *Service) compute(ctx context.Context, doc domain.Document, source domain.Source, name string) (*Result, error) {
	log := s.logger().With(zap.String("fingerprint", string(doc.Fingerprint)))

	// a flight that finished just before this one started has already stored it
	rec, err := s.lookup(ctx, doc.Fingerprint)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &Result{Record: rec, Cached: true}, nil
	}

	start := s.now()
	bundle, err := s.run(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("analysis cancelled", zap.Error(ctx.Err()))
			return nil, &errLeaderCancelled{err: ctx.Err()}
		}
		s.recordFailure(doc.Fingerprint, err)
		return nil, err
	}

	rec = &domain.Record{
		Fingerprint:    doc.Fingerprint,
		MD5:            bundle.MD5,
		Source:         source,
		SourceName:     name,
		Structural:     bundle.Structural,
		Content:        bundle.Content,
		Visual:         bundle.Visual,
		FileReputation: bundle.FileReputation,
		PriorityURL:    bundle.PriorityURL,
		URLReputation:  bundle.URLReputation,
		Risk:           bundle.risk,
		CreatedAt:      s.now(),
	}
	id, err := s.Repo.Insert(ctx, rec)
	if errors.Is(err, domain.ErrAlreadyExists) {
		log.Info("analysis stored concurrently, using existing record")
		existing, lerr := s.Repo.Lookup(ctx, doc.Fingerprint)
		if lerr != nil {
			return nil, eris.Wrap(lerr, "reload existing analysis")
		}
		return &Result{Record: existing, Cached: true}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errLeaderCancelled{err: ctx.Err()}
		}
		return nil, eris.Wrap(err, "store analysis")
	}
	rec.ID = id

	log.Info("analysis stored",
		zap.String("risk_score", string(rec.Risk.Score)),
		zap.Bool("priority_url", rec.PriorityURL != nil),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return &Result{Record: rec}, nil
}

type runBundle struct {
	domain.Bundle
	risk *domain.RiskAssessment
}

// run executes the stage graph:
//
//	structural, content, visual, file reputation (concurrent)
//	  -> url prioritizer -> url reputation (only with a priority url)
//	  -> risk synthesizer
func (s *Service) run(ctx context.Context, doc domain.Document) (*runBundle, error) {
	st := s.Stages
	b := &runBundle{Bundle: domain.Bundle{
		Fingerprint: doc.Fingerprint,
		MD5:         FingerprintMD5(doc.Content),
	}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := invoke(gctx, s, domain.StageStructural, 1, func(c context.Context) (*domain.StructuralReport, error) {
			return st.Structural.Execute(c, doc)
		})
		b.Structural = r
		return err
	})
	g.Go(func() error {
		r, err := invoke(gctx, s, domain.StageContent, 1, func(c context.Context) (*domain.ContentReport, error) {
			return st.Content.Execute(c, doc)
		})
		b.Content = r
		return err
	})
	g.Go(func() error {
		r, err := invoke(gctx, s, domain.StageVisual, 1, func(c context.Context) (*domain.VisualReport, error) {
			return st.Visual.Execute(c, doc)
		})
		b.Visual = r
		return err
	})
	g.Go(func() error {
		r, err := invoke(gctx, s, domain.StageFileReputation, s.Options.RetryAttempts, func(c context.Context) (*domain.FileReputation, error) {
			return st.FileReputation.Execute(c, doc.Fingerprint)
		})
		b.FileReputation = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in := domain.PrioritizeInput{
		StructuralURLs: b.Structural.URLs,
		ContentURLs:    b.Content.URLs,
		Visual:         b.Visual,
	}
	priority, err := invokeOptional(ctx, s, domain.StagePrioritizer, func(c context.Context) (*string, error) {
		return st.Prioritizer.Execute(c, in)
	})
	if err != nil {
		return nil, err
	}
	b.PriorityURL = normalizeURL(priority)

	if b.PriorityURL == nil {
		b.URLReputationSkipped = true
	} else {
		u := *b.PriorityURL
		rep, err := invoke(ctx, s, domain.StageURLReputation, s.Options.RetryAttempts, func(c context.Context) (*domain.URLReputation, error) {
			return st.URLReputation.Execute(c, u)
		})
		if err != nil {
			if !s.Options.DegradeURLReputation || ctx.Err() != nil {
				return nil, err
			}
			s.logger().Warn("url reputation unavailable, continuing",
				zap.String("fingerprint", string(doc.Fingerprint)), zap.Error(err))
			rep = &domain.URLReputation{Status: domain.ReputationUnavailable, URL: u, Error: err.Error()}
		}
		if rep.Status == "" {
			rep.Status = domain.ReputationPerformed
		}
		if rep.URL == "" {
			rep.URL = u
		}
		b.URLReputation = rep
	}

	risk, err := invoke(ctx, s, domain.StageSynthesizer, 1, func(c context.Context) (*domain.RiskAssessment, error) {
		return st.Synthesizer.Execute(c, b.Bundle)
	})
	if err != nil {
		return nil, err
	}
	b.risk = risk
	return b, nil
}

// invoke calls a stage whose result is mandatory.
func invoke[T any](ctx context.Context, s *Service, stage domain.Stage, attempts int, fn func(context.Context) (*T, error)) (*T, error) {
	out, err := call(ctx, s, stage, attempts, fn)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &domain.DownstreamError{
			Stage: stage,
			Err:   domain.NewStageError(stage, domain.KindPayload, errors.New("empty result")),
		}
	}
	return out, nil
}

// invokeOptional calls a stage for which a nil result is a valid answer.
func invokeOptional[T any](ctx context.Context, s *Service, stage domain.Stage, fn func(context.Context) (*T, error)) (*T, error) {
	return call(ctx, s, stage, 1, fn)
}

func call[T any](ctx context.Context, s *Service, stage domain.Stage, attempts int, fn func(context.Context) (*T, error)) (*T, error) {
	ctx, span := s.tracer().Start(ctx, "stage "+string(stage),
		trace.WithAttributes(attribute.String("docguard.stage", string(stage))))
	defer span.End()

	log := s.logger().With(zap.String("stage", string(stage)))
	start := s.now()

	out, err := withRetry(ctx, attempts, s.Options.RetryBaseDelay, func(attempt int) (*T, error) {
		c, cancel := context.WithTimeout(ctx, s.stageTimeout())
		defer cancel()
		out, err := fn(c)
		if err != nil {
			err = classify(stage, c, err)
			if attempt > 1 {
				log.Debug("stage attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			}
		}
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("stage failed", zap.Duration("duration", s.now().Sub(start)), zap.Error(err))
		return nil, &domain.DownstreamError{Stage: stage, Err: err}
	}
	log.Debug("stage completed", zap.Duration("duration", s.now().Sub(start)))
	return out, nil
}

// classify makes sure every adapter failure is a *StageError for stage and
// that an expired per-call deadline is reported as a timeout.
func classify(stage domain.Stage, ctx context.Context, err error) error {
	var se *domain.StageError
	if !errors.As(err, &se) {
		se = domain.NewStageError(stage, domain.KindTransport, err)
	} else {
		cp := *se
		se = &cp
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		se.Kind = domain.KindTimeout
	}
	return se
}

func normalizeURL(u *string) *string {
	if u == nil {
		return nil
	}
	v := strings.TrimSpace(*u)
	switch strings.ToLower(v) {
	case "", "null", "none":
		return nil
	}
	return &v
}

func (s *Service) recordFailure(fp domain.Fingerprint, err error) {
	if s.Failures == nil {
		return
	}
	var de *domain.DownstreamError
	if !errors.As(err, &de) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := &domain.StageFailure{
		Fingerprint: fp,
		Stage:       de.Stage,
		Kind:        de.Kind(),
		Message:     de.Err.Error(),
		CreatedAt:   s.now(),
	}
	if serr := s.Failures.SaveFailure(ctx, f); serr != nil {
		s.logger().Warn("failed to record stage failure", zap.Error(serr))
	}
}

func (s *Service) stageTimeout() time.Duration {
	if s.Options.StageTimeout > 0 {
		return s.Options.StageTimeout
	}
	return defaultStageTimeout
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer == nil {
		return otel.Tracer("github.com/bryanwahyu/docguard/analysis")
	}
	return s.Tracer
}
