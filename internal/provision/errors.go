package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the token does not exist.
	ErrNotFound = errors.New("provision: token not found")

	// ErrExpired indicates a claim against a PENDING token past its
	// deadline.
	ErrExpired = errors.New("provision: token expired")

	// ErrAlreadyClaimed indicates a claim against a non-PENDING token.
	// Tokens are single-use: once claimed, every later claim attempt
	// gets this for the rest of the token's life.
	ErrAlreadyClaimed = errors.New("provision: token already claimed")

	// ErrPersistence indicates the token store failed. Callers may
	// retry; no partial transition was persisted.
	ErrPersistence = errors.New("provision: persistence failure")
)

// InvalidStateError indicates an operation that is illegal for the
// token's current status. It carries the blocking status so callers can
// produce a descriptive message.
type InvalidStateError struct {
	Op     string
	Status TokenStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("provision: cannot %s token in status %q", e.Op, e.Status)
}

// ValidationError indicates a malformed request or claim payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("provision: invalid %s: %s", e.Field, e.Reason)
}
