package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors the transport layer maps to caller-appropriate signals.
var (
	// ErrNotFound means the workflow or run does not exist. Distinct from
	// a validation failure: "doesn't exist" vs "malformed".
	ErrNotFound = errors.New("not found")

	// ErrNotBlocked means resume was called on a run that is not waiting
	// at a gate. Rejected, never coerced into a no-op.
	ErrNotBlocked = errors.New("run is not blocked")

	// ErrForbidden means the ACL policy denied the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means a concurrent writer committed first; the caller
	// should reload and retry.
	ErrConflict = errors.New("stale run write")
)

// ValidationError describes a structural invariant a definition violated.
// Definitions failing validation are never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid workflow: " + e.Reason
	}
	return fmt.Sprintf("invalid workflow: %s: %s", e.Field, e.Reason)
}

// Validation wraps a field/reason pair into a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
