package domain

import "errors"

// Error taxonomy for the analysis pipeline. Callers distinguish these with
// errors.Is; each call site wraps with context via fmt.Errorf("%w", ...).
var (
	// ErrValidation marks malformed windows, timestamps, or thresholds.
	// Rejected immediately, never silently coerced.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientData marks a baseline too thin or a history too short.
	// It is a signal absence, not a zero score.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrTimeout marks an external source that exceeded its deadline.
	// The affected signal degrades to absent; fusion proceeds without it.
	ErrTimeout = errors.New("source timeout")

	// ErrPersistence marks a failed sink write. The in-memory result is
	// still returned so the caller can retry without recomputation.
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
