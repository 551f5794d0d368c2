/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Behavior packages wrap these with additional context.

ERROR CATEGORIES:
  1. Credit errors - reservation rejected, invalid amounts
  2. State errors - transition graph violations
  3. Store errors - concurrency conflicts, missing records

USAGE:
  Callers branch on sentinels:

    if errors.Is(err, ledger.ErrInsufficientCredit) {
        // surface the friendly rejection
    }

  or extract structured context:

    var ice *ledger.InsufficientCreditError
    if errors.As(err, &ice) {
        fmt.Println(ice.Shortfall)
    }

SEE ALSO:
  - store.go: Operations returning these errors
  - booking/: maps ErrConcurrencyConflict into bounded retries
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredit is returned when a reservation would push an
	// agent's usage past their credit limit. No state is mutated.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidState is returned when an operation violates the booking
	// or commission state graph.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConcurrencyConflict is returned when an optimistic write lost the
	// race and the retry budget is exhausted.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced agent, booking, commission,
	// or payment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateReservation is returned when a booking already holds an
	// unreleased reservation. One hold per booking, ever.
	ErrDuplicateReservation = errors.New("duplicate reservation for booking")

	// ErrDuplicateCommission is returned when creating a second commission
	// record for the same booking.
	ErrDuplicateCommission = errors.New("commission already exists for booking")

	// ErrInvalidAmount is returned for non-positive monetary inputs.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrImmutableRecord is returned when mutating a payment that has
	// already reached a final status.
	ErrImmutableRecord = errors.New("record is final and immutable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditError details a rejected reservation.
type InsufficientCreditError struct {
	AgentID   AgentID
	Required  Money
	Available Money
	Shortfall Money
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: required %s, available %s",
		e.Required.Value.StringFixed(2), e.Available.Value.StringFixed(2))
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// InvalidStateError details a rejected state transition.
type InvalidStateError struct {
	Entity string // "booking" or "commission"
	ID     string
	From   string
	To     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot transition %s %s from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConcurrencyConflictError is surfaced after the retry budget is spent.
type ConcurrencyConflictError struct {
	Entity   string
	ID       string
	Attempts int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s: optimistic write failed after %d attempts", e.Entity, e.ID, e.Attempts)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input
// rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateReservation) ||
		errors.Is(err, ErrImmutableRecord)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
