package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrValidation indicates malformed input to a mutating call
	ErrValidation = errors.New("validation failed")

	// ErrArchiveNotFound indicates the requested archive does not exist
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrCatalogOffline indicates the remote catalog is unreachable
	ErrCatalogOffline = errors.New("catalog is unreachable")

	// ErrNotZimFile indicates a file does not carry a ZIM header
	ErrNotZimFile = errors.New("not a zim file")
)

// ValidationError describes a rejected mutation. The store is unchanged.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FetchError is a failed favicon fetch attempt. It never leaves the
// favicon coordinator; callers only observe the resulting state.
type FetchError struct {
	ArchiveID string
	Attempt   int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch favicon %s (attempt %d): %v", e.ArchiveID, e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConsistencyError is an internal invariant violation. It signals a
// programming defect and is raised with panic.
type ConsistencyError struct {
	Op     string
	ID     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation in %s for %q: %s", e.Op, e.ID, e.Detail)
}
