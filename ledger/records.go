/*
records.go - Booking, commission, and payment record types

PURPOSE:
  The three record families that the credit ledger, commission ledger, and
  booking state machine coordinate over. Status enums live here so the
  store implementations can enforce terminal-state immutability without
  importing the behavior packages.

OWNERSHIP:
  - Booking.Status transitions are owned by the booking state machine
  - Commission.Status and Commission.Amount are owned by the commission ledger
  - Payment records are append-only once they reach a final status

SEE ALSO:
  - booking/: transition table and side-effect orchestration
  - commission/: derivation and lifecycle of commission records
  - payment/: aggregate read models over payment records
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// Open reports whether the booking still counts against agent credit.
func (s BookingStatus) Open() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Booking is the core travel booking record.
//
// TotalAmount is immutable once set at creation, except through the state
// machine's explicit financial adjustment. Version implements optimistic
// concurrency: a store write only succeeds when the stored version matches,
// which serializes transitions per booking.
type Booking struct {
	ID          BookingID
	AgentID     AgentID // empty = direct booking with no agent
	TotalAmount Money
	Status      BookingStatus
	StartDate   time.Time
	EndDate     time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b Booking) HasAgent() bool { return b.AgentID != "" }

// =============================================================================
// COMMISSION
// =============================================================================

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionApproved  CommissionStatus = "approved"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Commission is a derived monetary obligation owed to an agent for a
// completed booking. Exactly one commission exists per booking.
//
// Amount is always recomputed from BookingAmount and Rate while the record
// is pending or approved; paid commissions are immutable because money has
// already moved.
type Commission struct {
	ID            CommissionID
	BookingID     BookingID
	AgentID       AgentID
	BookingAmount Money
	Rate          decimal.Decimal // percent, 0-100
	Amount        Money
	Status        CommissionStatus
	DueDate       time.Time

	ApprovedBy string
	ApprovedAt *time.Time

	PaidAt           *time.Time
	PaymentMethod    string
	PaymentReference string

	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommissionAmount computes round(bookingAmount * rate / 100) to cents.
func CommissionAmount(bookingAmount Money, rate decimal.Decimal) Money {
	return bookingAmount.Mul(rate).Div(decimal.NewFromInt(100)).Round2()
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentDirection string

const (
	PaymentIncoming PaymentDirection = "incoming" // customer payment
	PaymentOutgoing PaymentDirection = "outgoing" // commission payout
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// Final reports whether the payment may no longer be mutated.
func (s PaymentStatus) Final() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// Payment is an append-only ledger entry for a monetary movement.
type Payment struct {
	ID           PaymentID
	AgentID      AgentID
	BookingID    BookingID    // optional
	CommissionID CommissionID // optional, set for payouts
	Amount       Money
	Direction    PaymentDirection
	Status       PaymentStatus
	Method       string
	Reference    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
