package domain

import "errors"

var (
	// ErrNotFound: unknown review id.
	ErrNotFound = errors.New("review not found")
	// ErrNoChange: the review already holds the requested approval state.
	// Non-retryable; callers should surface it as a distinct outcome.
	ErrNoChange = errors.New("no change required")
	// ErrValidation: malformed raw record or bad caller parameters.
	ErrValidation = errors.New("validation failed")
)
