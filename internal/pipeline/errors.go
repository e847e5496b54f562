package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"net"

	"github.com/mbd888/riskflow/internal/scoring"
)

// Kind classifies a processing failure for dead-letter routing and retry
// decisions downstream.
type Kind string

const (
	KindTransient  Kind = "transient"  // timeouts, broken connections; retryable
	KindValidation Kind = "validation" // malformed event; never retryable
	KindNotFound   Kind = "not_found"  // referenced entity missing
	KindInternal   Kind = "internal"   // everything else
)

// ValidationError marks an event that failed shape validation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid event: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Classify maps an error to its failure kind. Unknown errors are internal:
// misclassifying a bug as transient would invite downstream retry loops.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var ve *ValidationError
	if errors.As(err, &ve) || errors.Is(err, scoring.ErrInvalidRequest) {
		return KindValidation
	}
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, scoring.ErrScorerUnavailable) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindInternal
}
