/*
store.go - Persistence contracts for the ledger engine

PURPOSE:
  Defines the interface between the behavior packages and the database.
  The Store exposes read, conditional-write, and atomic-increment
  primitives; everything that must be correct under concurrency is a
  single store operation, never a read-modify-write at the caller.

KEY INTERFACES:
  AgentStore:       Agent accounts and credit configuration
  ReservationStore: Credit holds (the authoritative credit ledger)
  BookingStore:     Bookings with optimistic-concurrency writes
  CommissionStore:  Commission records (one per booking)
  PaymentStore:     Append-only payment records
  AuditLog:         Who did what when
  TxStore:          Atomic multi-write operations

THE CONDITIONAL RESERVE:
  Reserve is the one operation that enforces the credit limit. It must be
  implemented as a single conditional atomic operation: record the
  reservation and bump the cached counter only if the post-increment value
  does not exceed the limit, all under one lock or one SQL transaction
  with a guarded UPDATE. A separate read-check-write sequence is incorrect
  under concurrent reservations and is not an acceptable implementation.

IMPLEMENTATIONS:
  - store/sqlite: production store (guarded single-statement UPDATE)
  - ledger/store: in-memory store for tests and dev

SEE ALSO:
  - credit/: the service layer over ReservationStore
  - store/sqlite/sqlite.go: concrete implementation
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGENT STORE
// =============================================================================

type AgentStore interface {
	// CreateAgent persists a new agent account.
	CreateAgent(ctx context.Context, agent AgentAccount) error

	// GetAgent returns the agent, or (nil, nil) if it does not exist.
	GetAgent(ctx context.Context, id AgentID) (*AgentAccount, error)

	ListAgents(ctx context.Context) ([]AgentAccount, error)

	// SetCreditLimit changes the limit. Administrative action only; it
	// never touches CreditUsed, and it fails with InvalidStateError when
	// the new limit would fall below the agent's current usage.
	SetCreditLimit(ctx context.Context, id AgentID, limit Money) error

	SetCommissionRate(ctx context.Context, id AgentID, rate decimal.Decimal) error
}

// =============================================================================
// RESERVATION STORE - The authoritative credit ledger
// =============================================================================

type ReservationStore interface {
	// Reserve atomically records a reservation for bookingID and
	// increments the agent's cached usage, only if the post-increment
	// value would not exceed the credit limit. Returns
	// ErrInsufficientCredit (wrapped) without mutating state otherwise.
	// A booking may hold at most one unreleased reservation.
	Reserve(ctx context.Context, agentID AgentID, bookingID BookingID, amount Money) (*Reservation, error)

	// Release flips the unreleased reservation for bookingID and
	// decrements the cached usage, clamped at zero. Idempotent: when no
	// unreleased reservation exists it returns (nil, nil) and decrements
	// nothing.
	Release(ctx context.Context, bookingID BookingID, reason string) (*Reservation, error)

	// AdjustReservation changes the held amount for bookingID's
	// unreleased reservation, re-checking the credit limit when the
	// amount grows. Same atomicity contract as Reserve.
	AdjustReservation(ctx context.Context, bookingID BookingID, newAmount Money) (*Reservation, error)

	// ActiveReservations returns the unreleased reservations for an agent.
	ActiveReservations(ctx context.Context, agentID AgentID) ([]Reservation, error)

	// CreditUsed computes the authoritative usage: the sum of unreleased
	// reservation amounts. This ignores the cached counter entirely.
	CreditUsed(ctx context.Context, agentID AgentID) (Money, error)

	// OverwriteCreditUsed replaces the cached counter. Reconciliation only.
	OverwriteCreditUsed(ctx context.Context, agentID AgentID, used Money) error
}

// =============================================================================
// BOOKING STORE
// =============================================================================

type BookingStore interface {
	CreateBooking(ctx context.Context, b Booking) error

	// GetBooking returns the booking, or (nil, nil) if it does not exist.
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	ListBookings(ctx context.Context) ([]Booking, error)
	ListBookingsByAgent(ctx context.Context, agentID AgentID) ([]Booking, error)
	ListBookingsByStatus(ctx context.Context, statuses ...BookingStatus) ([]Booking, error)

	// UpdateBooking writes b only if the stored version equals b.Version,
	// then advances the version by one. A stale write returns
	// ErrConcurrencyConflict; this is what serializes transitions per
	// booking.
	UpdateBooking(ctx context.Context, b Booking) error
}

// =============================================================================
// COMMISSION STORE
// =============================================================================

type CommissionStore interface {
	CreateCommission(ctx context.Context, c Commission) error

	// GetCommission returns the commission, or (nil, nil) if missing.
	GetCommission(ctx context.Context, id CommissionID) (*Commission, error)

	// GetCommissionByBooking returns the commission for a booking, or
	// (nil, nil) when the booking has none.
	GetCommissionByBooking(ctx context.Context, bookingID BookingID) (*Commission, error)

	ListCommissionsByAgent(ctx context.Context, agentID AgentID) ([]Commission, error)
	ListCommissionsByStatus(ctx context.Context, statuses ...CommissionStatus) ([]Commission, error)

	UpdateCommission(ctx context.Context, c Commission) error
}

// =============================================================================
// PAYMENT STORE - Append-only
// =============================================================================

type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) error

	// GetPayment returns the payment, or (nil, nil) if missing.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// UpdatePaymentStatus advances a payment's status. Returns
	// ErrImmutableRecord if the stored status is already final.
	UpdatePaymentStatus(ctx context.Context, id PaymentID, status PaymentStatus) error

	ListPaymentsByAgent(ctx context.Context, agentID AgentID) ([]Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID BookingID) ([]Payment, error)
}

// =============================================================================
// AUDIT LOG & RECONCILE RUNS
// =============================================================================

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, entityID string) ([]AuditEntry, error)
}

type ReconcileStore interface {
	RecordRun(ctx context.Context, run ReconcileRun) error
	ListRuns(ctx context.Context, limit int) ([]ReconcileRun, error)
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

// Store is the full persistence boundary for the engine.
type Store interface {
	AgentStore
	ReservationStore
	BookingStore
	CommissionStore
	PaymentStore
	AuditLog
	ReconcileStore
}

// TxStore wraps Store with transaction support.
// Use this when multiple writes must commit or roll back together, e.g.
// booking creation plus its credit reservation.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write made through its Store argument
	// is rolled back; otherwise they commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
