package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lineage, version, or singleton record
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a compare-and-set failure or a version that does
	// not extend the lineage contiguously. Callers recompute and retry once
	// before surfacing it.
	ErrConflict = errors.New("conflict")

	// ErrGenerationUnavailable is returned after the generation retry budget
	// is exhausted. A PostRecord must never be marked Posted once this is
	// returned.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// ProviderError wraps a failure from the generation capability. Transient
// failures (timeouts, rate limits, 5xx) are retried; permanent ones are not.
type ProviderError struct {
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider error (%s): %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PlatformError wraps a failure from the social platform capability.
type PlatformError struct {
	RateLimited bool
	Transient   bool
	Err         error
}

func (e *PlatformError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("platform error (rate limited): %v", e.Err)
	case e.Transient:
		return fmt.Sprintf("platform error (transient): %v", e.Err)
	default:
		return fmt.Sprintf("platform error (permanent): %v", e.Err)
	}
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Retryable reports whether the dispatch attempt should be retried.
func (e *PlatformError) Retryable() bool { return e.RateLimited || e.Transient }

// ValidationError means generated content still violates constraints after
// remediation (shorten + truncate).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Reason }

// StateError is a data-integrity fault such as a version gap. It freezes the
// affected lineage (no further branches) until manually inspected; it never
// halts the whole agent.
type StateError struct {
	LineageID string
	Reason    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error on lineage %s: %s", e.LineageID, e.Reason)
}
