package analysis

import (
	"context"
	"errors"
	"time"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const defaultRetryDelay = 500 * time.Millisecond

// withRetry runs fn up to attempts times, backing off exponentially between
// attempts. Only transient stage errors are retried.
func withRetry[T any](ctx context.Context, attempts int, base time.Duration, fn func(attempt int) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = defaultRetryDelay
	}
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err = fn(attempt)
		if err == nil || attempt == attempts || !retryable(err) {
			return out, err
		}
		delay := base << (attempt - 1)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return out, err
		case <-t.C:
		}
	}
	return out, err
}

func retryable(err error) bool {
	var se *domain.StageError
	return errors.As(err, &se) && se.Transient()
}
