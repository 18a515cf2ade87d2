package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. HTTP handlers map these onto status codes; retry policies
// use them to decide whether an operation is worth repeating.
var (
	ErrEmptyQuery        = errors.New("empty query")
	ErrQueryTooLong      = errors.New("query too long")
	ErrUnknownCollection = errors.New("unknown collection")

	ErrRateLimited = errors.New("rate limit exceeded")

	ErrEmbeddingUnavailable    = errors.New("embedding provider unavailable")
	ErrVectorSearchUnavailable = errors.New("vector search unavailable")
	ErrSynthesisUnavailable    = errors.New("answer synthesis unavailable")

	ErrPipelineTimeout = errors.New("query pipeline deadline exceeded")

	// ErrIndexRunning is reported when an indexing run is requested for a
	// collection whose lease is already held. Callers treat it as a benign
	// "already running" status, not a failure.
	ErrIndexRunning = errors.New("indexing already running for collection")
)

// ValidationError wraps a sentinel with the offending field and value.
// Never retried; maps to a 4xx response.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// TransientError marks a provider failure as retryable (rate limit, timeout,
// transport hiccup). Retry policies repeat only errors carrying this marker.
type TransientError struct {
	Op      string
	Wrapped error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Wrapped)
}

func (e *TransientError) Unwrap() error { return e.Wrapped }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Wrapped: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConfigError is fatal at startup, never per-request.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Param, e.Reason)
}
