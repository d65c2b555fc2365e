package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNormalization signals an unparseable source record, page or graph.
	ErrNormalization = errors.New("normalization failure")
	// ErrUnsupportedSource signals a source of an unknown kind.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrGeneration signals a language model failure.
	ErrGeneration = errors.New("generation failure")
	// ErrIndexUnavailable signals a missing or empty index.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrBatchTruncation signals that a trailing partial batch was not indexed.
	ErrBatchTruncation = errors.New("batch truncation")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionNotFound signals an unknown conversational session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy signals a question already in flight for the session.
	ErrSessionBusy = errors.New("session busy")
)

// NormalizationError wraps ErrNormalization with the offending record location.
type NormalizationError struct {
	Source string
	Record string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("%s: %s: %v", ErrNormalization.Error(), e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %s[%s]: %v", ErrNormalization.Error(), e.Source, e.Record, e.Err)
}

func (e *NormalizationError) Unwrap() []error { return []error{ErrNormalization, e.Err} }

// NewNormalizationError creates a normalization error for one record of a source.
func NewNormalizationError(source, record string, err error) error {
	return &NormalizationError{Source: source, Record: record, Err: err}
}
