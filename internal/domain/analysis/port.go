package analysis

import "context"

// Repository port (persistence of completed analyses, keyed by fingerprint)
type Repository interface {
	Lookup(ctx context.Context, fp Fingerprint) (*Record, error)
	Insert(ctx context.Context, r *Record) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*Record, error)
}

// FailureLog port (diagnostics for aborted runs)
type FailureLog interface {
	SaveFailure(ctx context.Context, f *StageFailure) error
	ListFailures(ctx context.Context, fp Fingerprint, limit int) ([]*StageFailure, error)
}

// Fetcher resolves a locator into document bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageStore keeps rendered page images and returns a reference to them.
type ImageStore interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Stage ports. Each adapter turns its collaborator's failures into *StageError.

type StructuralStage interface {
	Execute(ctx context.Context, doc Document) (*StructuralReport, error)
}

type ContentStage interface {
	Execute(ctx context.Context, doc Document) (*ContentReport, error)
}

type VisualStage interface {
	Execute(ctx context.Context, doc Document) (*VisualReport, error)
}

type FileReputationStage interface {
	Execute(ctx context.Context, fp Fingerprint) (*FileReputation, error)
}

// URLPrioritizerStage returns nil when no URL deserves a reputation lookup.
type URLPrioritizerStage interface {
	Execute(ctx context.Context, in PrioritizeInput) (*string, error)
}

type URLReputationStage interface {
	Execute(ctx context.Context, url string) (*URLReputation, error)
}

type RiskSynthesizerStage interface {
	Execute(ctx context.Context, b Bundle) (*RiskAssessment, error)
}

// Stages is the adapter set the orchestrator is parameterised by.
type Stages struct {
	Structural     StructuralStage
	Content        ContentStage
	Visual         VisualStage
	FileReputation FileReputationStage
	Prioritizer    URLPrioritizerStage
	URLReputation  URLReputationStage
	Synthesizer    RiskSynthesizerStage
}
