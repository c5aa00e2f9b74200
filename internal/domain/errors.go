package domain

import "errors"

// Error taxonomy for lifecycle and allocation operations. Callers branch
// with errors.Is; wrapping layers add operation context.
var (
	// Missing or malformed input, user-correctable.
	ErrValidation = errors.New("invalid input")

	// Tracking number collision, including the race detected by the
	// storage uniqueness constraint.
	ErrDuplicateTracking = errors.New("tracking number already exists")

	// No parcel with the given tracking number.
	ErrNotFound = errors.New("parcel not found")

	// Operation not legal from the parcel's current status, e.g. deleting
	// a non-PENDING parcel.
	ErrIllegalTransition = errors.New("illegal status transition")

	// Retryable allocation failure (lock timeout, deadlock, storage error
	// during Allocate). The failed attempt issued nothing.
	ErrAllocation = errors.New("queue number allocation failed")
)
