package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory record was not found.
	ErrNotFound = errors.New("memory record not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that a text-generation call failed.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrMalformedResponse indicates that an LLM response was not valid JSON.
	ErrMalformedResponse = errors.New("response is not valid JSON")

	// ErrNotObject indicates that an LLM response parsed to something
	// other than a JSON object.
	ErrNotObject = errors.New("response is not a JSON object")

	// ErrMissingSummary indicates that a curated record carried no summary.
	ErrMissingSummary = errors.New("summary is missing or blank")

	// ErrUnknownCategory indicates a category outside the closed enum.
	ErrUnknownCategory = errors.New("unknown memory category")

	// ErrInvalidRating indicates a feedback rating outside [0, 1].
	ErrInvalidRating = errors.New("rating must be between 0.0 and 1.0")
)

// MemoryError wraps errors with operation context.
//
// It records which operation failed so callers see messages like
// "mnemo: Capture: llm operation failed" while errors.Is/As still reach
// the underlying cause.
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "mnemo: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("mnemo: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil, so call sites can wrap unconditionally.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}
