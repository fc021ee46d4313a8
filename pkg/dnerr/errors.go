// Package dnerr defines the sentinel error kinds shared across the storage
// stack. It has no dependencies so every layer — block, silo, local,
// the consensus stack, and the facade — can return and compare these
// without import cycles; package doughnut re-exports them under their
// user-facing names.
package dnerr

import "errors"

var (
	// ErrMissingBlock is returned when an address is absent at the
	// authoritative layer.
	ErrMissingBlock = errors.New("doughnut: missing block")

	// ErrValidationFailed is returned when a block fails signature,
	// address, or version validation. It is never retried transparently.
	ErrValidationFailed = errors.New("doughnut: validation failed")

	// ErrTooFewPeers is returned when fewer than a quorum majority of
	// acceptors are reachable.
	ErrTooFewPeers = errors.New("doughnut: too few peers")

	// ErrNodeNotFound is returned when the overlay cannot resolve a peer id.
	ErrNodeNotFound = errors.New("doughnut: node not found")

	// ErrInsufficientSpace is returned when a Silo write would exceed its
	// configured capacity.
	ErrInsufficientSpace = errors.New("doughnut: insufficient space")

	// ErrCollision is returned when an insert-only write targets an
	// already-occupied key.
	ErrCollision = errors.New("doughnut: collision")
)

// ConflictError is returned when a write loses to a concurrent write; it
// carries the value that won so a caller-supplied resolver can retry.
type ConflictError struct {
	// Current is the block or quorum value that was actually chosen.
	// It is declared as `any` because Paxos conflicts may surface either
	// a Block or a Quorum; callers type-assert on the concrete
	// type they expect.
	Current any
}

func (e *ConflictError) Error() string {
	return "doughnut: conflict"
}

// ValidationError decorates ErrValidationFailed with a human-readable
// reason (e.g. "NB overwrite denied") while still matching
// errors.Is(err, ErrValidationFailed).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "doughnut: validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidation builds a ValidationError with the given reason.
func NewValidation(reason string) error {
	return &ValidationError{Reason: reason}
}
