/*
Package ledger provides the core types and storage contracts for the
agency back-office ledger engine.

PURPOSE:
  This package contains the shared vocabulary for the credit, commission,
  booking, and payment subsystems: monetary values, typed identifiers,
  and the record types that flow through the Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary value backed by decimal.Decimal
  - AgentAccount: An agent with a credit limit and a cached usage counter
  - Reservation: A credit hold placed for the lifetime of an open booking
  - Typed IDs: AgentID, BookingID, etc. prevent mixing identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Derivation: CreditUsed is a cache; the reservation ledger is truth
  3. Type Safety: Strong typing for IDs prevents cross-entity mixups
  4. Auditability: Every mutation leaves an AuditEntry behind

USAGE:
  limit := ledger.NewMoney(10000)
  agent := ledger.AgentAccount{ID: "agt-1", CreditLimit: limit}

SEE ALSO:
  - records.go: Booking, Commission, and Payment record types
  - store.go: Persistence contracts
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary value with currency
// =============================================================================

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// DefaultCurrency is applied when a caller does not specify one.
const DefaultCurrency = CurrencyUSD

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: DefaultCurrency}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: DefaultCurrency}
}

// FromCents converts an integer cent amount back into Money.
// The SQLite store persists money as cents for exact comparisons.
func FromCents(cents int64) Money {
	return Money{Value: decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)), Currency: DefaultCurrency}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero, Currency: DefaultCurrency}
	}
	return Money{Value: d, Currency: DefaultCurrency}
}

func (m Money) Zero() Money                  { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money            { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Sub(o Money) Money            { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money  { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money  { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                   { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Round2() Money                { return Money{Value: m.Value.Round(2), Currency: m.Currency} }
func (m Money) IsNegative() bool             { return m.Value.IsNegative() }
func (m Money) IsZero() bool                 { return m.Value.IsZero() }
func (m Money) IsPositive() bool             { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool           { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool     { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool        { return m.Value.LessThan(o.Value) }
func (m Money) LessThanOrEqual(o Money) bool { return m.Value.LessThanOrEqual(o.Value) }

// Cents returns the value as integer cents, rounded half-up.
func (m Money) Cents() int64 {
	return m.Value.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (m Money) String() string {
	return m.Value.StringFixed(2) + " " + string(m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AgentID string
type BookingID string
type CommissionID string
type PaymentID string
type ReservationID string
type RunID string

// =============================================================================
// AGENT CREDIT ACCOUNT
// =============================================================================

// AgentAccount holds an agent's credit configuration.
//
// CreditUsed is a CACHE of the sum of unreleased reservations. The
// reservation ledger is authoritative; the cache is maintained inline by
// Reserve/Release and overwritten wholesale by reconciliation. The
// invariant 0 <= CreditUsed <= CreditLimit holds after every committed
// store operation.
type AgentAccount struct {
	ID          AgentID
	Name        string
	Email       string
	CreditLimit Money
	CreditUsed  Money

	// CommissionRate is a percentage (0-100). Zero means unset; the
	// commission ledger applies its default rate in that case.
	CommissionRate decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// RESERVATION - One row per credit hold
// =============================================================================

// Reservation records a hold against an agent's credit limit for the open
// lifecycle of a booking. At most one unreleased reservation exists per
// booking. Release flips the row rather than deleting it, which makes
// double-release a detectable no-op and reconciliation a pure recompute.
type Reservation struct {
	ID            ReservationID
	AgentID       AgentID
	BookingID     BookingID
	Amount        Money
	CreatedAt     time.Time
	ReleasedAt    *time.Time
	ReleaseReason string
}

func (r Reservation) Released() bool { return r.ReleasedAt != nil }

// =============================================================================
// AUDIT LOG ENTRIES
// =============================================================================

type AuditAction string

const (
	AuditBookingCreated     AuditAction = "booking_created"
	AuditBookingConfirmed   AuditAction = "booking_confirmed"
	AuditBookingCancelled   AuditAction = "booking_cancelled"
	AuditBookingCompleted   AuditAction = "booking_completed"
	AuditAmountAdjusted     AuditAction = "amount_adjusted"
	AuditCommissionApproved AuditAction = "commission_approved"
	AuditCommissionPaid     AuditAction = "commission_paid"
	AuditCreditLimitChanged AuditAction = "credit_limit_changed"
	AuditSideEffectFailed   AuditAction = "side_effect_failed"
	AuditReconcileRun       AuditAction = "reconcile_run"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID       string
	At       time.Time
	ActorID  string
	Action   AuditAction
	EntityID string
	Payload  map[string]string
}

// =============================================================================
// RECONCILE RUN - Result of one reconciliation sweep
// =============================================================================

type ReconcileRun struct {
	ID                   RunID
	StartedAt            time.Time
	FinishedAt           time.Time
	AgentsChecked        int
	CreditCorrections    int
	CommissionsCreated   int
	CommissionsCancelled int
	ReservationsRepaired int
	Notes                string
}
