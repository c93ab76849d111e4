/*
errors.go - Centralized error taxonomy for the booking engine

PURPOSE:
  All failure classes in one place. Domain packages wrap these sentinels
  with structured errors carrying context; the API layer maps them to
  HTTP statuses without inspecting domain internals.

ERROR CATEGORIES:
  1. Lookup failures     - ErrNotFound
  2. Authorization       - ErrUnauthorized (wrong actor or role)
  3. Lifecycle           - ErrInvalidState (transition not permitted)
  4. Races               - ErrConflict (slot claim, reschedule/payout revalidation)
  5. Invariant breakage  - ErrUnbalanced (programming error, fatal)
  6. Bad input           - ErrValidation

USAGE:
  if errors.Is(err, core.ErrConflict) { ... }

  var inv *core.InvalidStateError
  if errors.As(err, &inv) { log(inv.From) }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entity id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor is neither party to the
	// entity, or lacks the role an operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when a lifecycle transition is attempted
	// from a state that does not permit it.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when a time/slot conflict is detected, or when
	// a revalidation race loses (reschedule approval, payout approval,
	// concurrent slot claims).
	ErrConflict = errors.New("conflict")

	// ErrUnbalanced is returned when a ledger post's debits and credits do
	// not match. This is a programming-error class: it indicates a core
	// invariant violation, not a user-input problem, and is non-recoverable.
	ErrUnbalanced = errors.New("unbalanced ledger post")

	// ErrValidation is returned for malformed input: bad duration, missing
	// reason, amount below minimum, and similar.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which entity failed to resolve.
type NotFoundError struct {
	Kind string // "booking", "slot", "template", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError describes a rejected lifecycle transition.
type InvalidStateError struct {
	Entity string
	ID     string
	From   string
	Detail string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s in state %s: %s", e.Entity, e.ID, e.From, e.Detail)
}
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConflictError describes a lost race or an overlapping time window.
type ConflictError struct {
	Resource string
	ID       string
	Detail   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Detail)
}
func (e *ConflictError) Unwrap() error { return ErrConflict }

// UnbalancedError carries the mismatched totals of a rejected ledger post.
type UnbalancedError struct {
	Debits  Money
	Credits Money
	Detail  string
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("unbalanced post: debits %s, credits %s (%s)", e.Debits, e.Credits, e.Detail)
}
func (e *UnbalancedError) Unwrap() error { return ErrUnbalanced }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true when the failure is attributable to the caller
// and safe to surface as a 4xx.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation)
}

// IsFatal returns true for invariant violations that must not be retried.
func IsFatal(err error) bool { return errors.Is(err, ErrUnbalanced) }
