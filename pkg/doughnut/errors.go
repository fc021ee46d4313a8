package doughnut

import "github.com/cuemby/doughnut/pkg/dnerr"

// These re-export the storage core's sentinel errors under the facade's
// own name, the surface an application built on this package should
// import and compare against with errors.Is/errors.As rather than
// reaching into pkg/dnerr directly.
var (
	ErrMissingBlock       = dnerr.ErrMissingBlock
	ErrValidationFailed   = dnerr.ErrValidationFailed
	ErrTooFewPeers        = dnerr.ErrTooFewPeers
	ErrNodeNotFound       = dnerr.ErrNodeNotFound
	ErrInsufficientSpace  = dnerr.ErrInsufficientSpace
	ErrCollision          = dnerr.ErrCollision
)

// ConflictError and ValidationError are re-exported as type aliases so
// callers can errors.As against doughnut.ConflictError without an
// import of pkg/dnerr.
type (
	ConflictError   = dnerr.ConflictError
	ValidationError = dnerr.ValidationError
)
