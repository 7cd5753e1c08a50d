package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the retrieval engine.
var (
	ErrEmptyText          = errors.New("empty text")
	ErrInvalidTopK        = errors.New("invalid top_k")
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidSourceType  = errors.New("invalid source type")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrQueryTooShort      = errors.New("query too short")
	ErrQueryTooLong       = errors.New("query too long")
	ErrQueryInjection     = errors.New("query contains suspicious content")
	ErrNotFound           = errors.New("not found")

	// Provider failures.
	ErrEmbeddingFailure = errors.New("embedding provider failure")
	ErrSynthesis        = errors.New("answer synthesis failure")

	// Persistence failures.
	ErrPersist = errors.New("persistence failure")
)

// Kind classifies an error so callers can tell bad input from a failing
// provider or a storage fault without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindProvider
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindProvider:
		return "provider"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

var inputErrors = []error{
	ErrEmptyText, ErrInvalidTopK, ErrInvalidChunkParams, ErrDimensionMismatch,
	ErrInvalidDocument, ErrInvalidSourceType, ErrInvalidQuery, ErrQueryTooShort,
	ErrQueryTooLong, ErrQueryInjection, ErrNotFound,
}

// KindOf reports the kind of err. Nil maps to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	switch {
	case errors.Is(err, ErrEmbeddingFailure), errors.Is(err, ErrSynthesis):
		return KindProvider
	case errors.Is(err, ErrPersist):
		return KindPersistence
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindInput
	}
	for _, e := range inputErrors {
		if errors.Is(err, e) {
			return KindInput
		}
	}
	return KindInternal
}

// ValidationError wraps a sentinel with context.
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

// DimensionError reports a vector whose length differs from the index dimension.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// CheckDimension returns a *DimensionError when len(vec) != want.
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return &DimensionError{Want: want, Got: len(vec)}
	}
	return nil
}
