package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Stage identifies one analysis capability.
type Stage string

const (
	StageStructural     Stage = "structural"
	StageContent        Stage = "content"
	StageVisual         Stage = "visual"
	StageFileReputation Stage = "file_reputation"
	StagePrioritizer    Stage = "url_prioritizer"
	StageURLReputation  Stage = "url_reputation"
	StageSynthesizer    Stage = "risk_synthesizer"
)

// ErrorKind separates "downstream said no" from "downstream never answered".
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindPayload   ErrorKind = "payload"
	KindTimeout   ErrorKind = "timeout"
)

var (
	// ErrNotFound is returned by the store when no record exists for a fingerprint.
	ErrNotFound = errors.New("analysis not found")

	// ErrAlreadyExists is returned by Insert when the fingerprint is already stored.
	ErrAlreadyExists = errors.New("analysis already exists")
)

// StageError is what every adapter returns on failure.
type StageError struct {
	Stage  Stage
	Kind   ErrorKind
	Status int // HTTP status of the collaborator, 0 if none
	Err    error
}

func (e *StageError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Stage, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transient reports whether a retry could plausibly succeed.
func (e *StageError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindStatus:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	}
	return false
}

// NewStageError classifies err: deadline expiry and network timeouts become
// KindTimeout, everything else gets the given kind.
func NewStageError(stage Stage, kind ErrorKind, err error) *StageError {
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// StatusError builds a KindStatus error for a non-success collaborator reply.
func StatusError(stage Stage, status int, body string) *StageError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &StageError{Stage: stage, Kind: KindStatus, Status: status, Err: fmt.Errorf("unexpected response: %s", body)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// InputError is a user-correctable problem with the request.
type InputError struct {
	Msg string
	Err error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *InputError) Unwrap() error { return e.Err }

// DownstreamError aborts the pipeline; it names the failing stage.
type DownstreamError struct {
	Stage Stage
	Err   error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Kind returns the underlying StageError kind, or KindTransport when the
// cause is not a StageError.
func (e *DownstreamError) Kind() ErrorKind {
	var se *StageError
	if errors.As(e.Err, &se) {
		return se.Kind
	}
	if isTimeout(e.Err) {
		return KindTimeout
	}
	return KindTransport
}
