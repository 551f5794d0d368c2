/*
Package commission derives and manages agent commission records.

PURPOSE:
  A commission is a derived monetary obligation: exactly one per booking,
  created when the booking completes, proportional to the booking value.
  This package owns the commission status field and the recomputation of
  the commission amount; nothing else may mutate either.

DELIBERATE NO-OPS:
  CreateForBooking returns (nil, nil) - not an error - when its
  preconditions are unmet. Commission creation is an optional side effect
  of booking completion, not a requirement for it: a booking without an
  agent simply has no commission, and that is not a failure.

PAID IS FINAL:
  Once a commission is paid, money has moved. Recalculation and
  cancellation become no-ops on paid records; there is no claw-back path
  through this ledger.

THE SWEEP:
  Sweep re-derives commission existence from the authoritative booking
  set: completed bookings with an agent get a commission if one is
  missing, and live commissions whose booking was cancelled get
  cancelled. It is idempotent - a second consecutive run changes nothing.

SEE ALSO:
  - booking/: the only caller of CreateForBooking/CancelForBooking
  - reconcile/: runs Sweep on a schedule
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

// DefaultRate is applied when the agent has no configured rate.
var DefaultRate = decimal.NewFromInt(10)

// DueAfter is how long after creation a commission becomes due.
const DueAfter = 30 * 24 * time.Hour

// =============================================================================
// COMMISSION LEDGER
// =============================================================================

type Ledger struct {
	Store ledger.Store

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewLedger(store ledger.Store) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateForBooking derives a commission record for a completed booking.
//
// Preconditions (all must hold, otherwise this is a no-op returning nil):
//   - the booking exists and has an assigned agent
//   - the booking is in completed status
//   - the booking amount is positive
//   - no commission record exists for the booking yet
func (l *Ledger) CreateForBooking(ctx context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	booking, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || !booking.HasAgent() || booking.Status != ledger.BookingCompleted || !booking.TotalAmount.IsPositive() {
		return nil, nil
	}

	existing, err := l.Store.GetCommissionByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	agent, err := l.Store.GetAgent(ctx, booking.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, nil
	}

	rate := agent.CommissionRate
	if rate.IsZero() {
		rate = DefaultRate
	}

	now := l.now()
	c := ledger.Commission{
		ID:            ledger.CommissionID(uuid.NewString()),
		BookingID:     booking.ID,
		AgentID:       booking.AgentID,
		BookingAmount: booking.TotalAmount,
		Rate:          rate,
		Amount:        ledger.CommissionAmount(booking.TotalAmount, rate),
		Status:        ledger.CommissionPending,
		DueDate:       now.Add(DueAfter),
		CreatedAt:     now,
	}
	if err := l.Store.CreateCommission(ctx, c); err != nil {
		// Lost a race with another creator: the invariant held, so this
		// degenerates into the "already exists" no-op.
		if errors.Is(err, ledger.ErrDuplicateCommission) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// RecalculateForBooking refreshes BookingAmount from the current booking
// value and recomputes the commission amount. No-op returning the
// unchanged record when the commission is paid or cancelled; (nil, nil)
// when no commission exists.
func (l *Ledger) RecalculateForBooking(ctx context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	c, err := l.Store.GetCommissionByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if c.Status == ledger.CommissionPaid || c.Status == ledger.CommissionCancelled {
		return c, nil
	}

	booking, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return c, nil
	}

	c.BookingAmount = booking.TotalAmount
	c.Amount = ledger.CommissionAmount(booking.TotalAmount, c.Rate)
	if err := l.Store.UpdateCommission(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// CancelForBooking transitions the booking's commission to cancelled.
// No-op returning the unchanged record when the commission is already paid
// (a payout cannot be clawed back here) or already cancelled; (nil, nil)
// when no commission exists.
func (l *Ledger) CancelForBooking(ctx context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	c, err := l.Store.GetCommissionByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if c.Status == ledger.CommissionPaid || c.Status == ledger.CommissionCancelled {
		return c, nil
	}

	now := l.now()
	c.Status = ledger.CommissionCancelled
	c.CancelledAt = &now
	if err := l.Store.UpdateCommission(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// Approve moves a pending commission to approved, stamped with the actor.
func (l *Ledger) Approve(ctx context.Context, id ledger.CommissionID, approvedBy string) (*ledger.Commission, error) {
	c, err := l.Store.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &ledger.NotFoundError{Resource: "commission", ID: string(id)}
	}
	if c.Status != ledger.CommissionPending {
		return nil, &ledger.InvalidStateError{
			Entity: "commission", ID: string(id),
			From: string(c.Status), To: string(ledger.CommissionApproved),
		}
	}

	now := l.now()
	c.Status = ledger.CommissionApproved
	c.ApprovedBy = approvedBy
	c.ApprovedAt = &now
	if err := l.Store.UpdateCommission(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkAsPaid moves an approved commission to paid. Paid is final.
func (l *Ledger) MarkAsPaid(ctx context.Context, id ledger.CommissionID, method, reference string) (*ledger.Commission, error) {
	c, err := l.Store.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &ledger.NotFoundError{Resource: "commission", ID: string(id)}
	}
	if c.Status != ledger.CommissionApproved {
		return nil, &ledger.InvalidStateError{
			Entity: "commission", ID: string(id),
			From: string(c.Status), To: string(ledger.CommissionPaid),
		}
	}

	now := l.now()
	c.Status = ledger.CommissionPaid
	c.PaidAt = &now
	c.PaymentMethod = method
	c.PaymentReference = reference
	if err := l.Store.UpdateCommission(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// SUMMARY - Read model for reporting
// =============================================================================

type StatusTotal struct {
	Count int
	Total ledger.Money
}

type Summary struct {
	AgentID  ledger.AgentID
	ByStatus map[ledger.CommissionStatus]StatusTotal

	// Outstanding is the sum over pending and approved commissions -
	// what the agency still owes the agent.
	Outstanding ledger.Money

	// Paid is the lifetime payout total.
	Paid ledger.Money
}

func (l *Ledger) SummaryForAgent(ctx context.Context, agentID ledger.AgentID) (*Summary, error) {
	agent, err := l.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}

	commissions, err := l.Store.ListCommissionsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		AgentID:     agentID,
		ByStatus:    make(map[ledger.CommissionStatus]StatusTotal),
		Outstanding: ledger.NewMoney(0),
		Paid:        ledger.NewMoney(0),
	}
	for _, c := range commissions {
		st := s.ByStatus[c.Status]
		st.Count++
		if st.Total.Currency == "" {
			st.Total = c.Amount.Zero()
		}
		st.Total = st.Total.Add(c.Amount)
		s.ByStatus[c.Status] = st

		switch c.Status {
		case ledger.CommissionPending, ledger.CommissionApproved:
			s.Outstanding = s.Outstanding.Add(c.Amount)
		case ledger.CommissionPaid:
			s.Paid = s.Paid.Add(c.Amount)
		}
	}
	return s, nil
}

// =============================================================================
// SWEEP - Re-derive commission existence from bookings
// =============================================================================

type SweepResult struct {
	Created   int
	Cancelled int
}

// Sweep converges commission state with the authoritative booking set.
// Safe to run repeatedly and concurrently with live traffic: every step
// is an idempotent no-op once state agrees.
func (l *Ledger) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	// Completed bookings with an agent must have a commission.
	completed, err := l.Store.ListBookingsByStatus(ctx, ledger.BookingCompleted)
	if err != nil {
		return result, err
	}
	for _, b := range completed {
		if !b.HasAgent() || !b.TotalAmount.IsPositive() {
			continue
		}
		created, err := l.CreateForBooking(ctx, b.ID)
		if err != nil {
			return result, err
		}
		if created != nil {
			result.Created++
		}
	}

	// Live commissions whose booking was cancelled must be cancelled.
	live, err := l.Store.ListCommissionsByStatus(ctx, ledger.CommissionPending, ledger.CommissionApproved)
	if err != nil {
		return result, err
	}
	for _, c := range live {
		booking, err := l.Store.GetBooking(ctx, c.BookingID)
		if err != nil {
			return result, err
		}
		if booking != nil && booking.Status != ledger.BookingCancelled {
			continue
		}
		if _, err := l.CancelForBooking(ctx, c.BookingID); err != nil {
			return result, err
		}
		result.Cancelled++
	}

	return result, nil
}
