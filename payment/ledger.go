/*
Package payment records monetary movements and serves balance queries.

PURPOSE:
  An append-only ledger of completed (or in-flight) money movements:
  incoming customer payments against bookings, and outgoing commission
  payouts to agents. Records are never mutated after reaching a final
  status - corrections are new entries, not edits.

READ MODELS:
  OutstandingBalance and SummaryForAgent are reporting queries. They are
  eventually consistent with in-flight transitions and hold no invariants
  of their own beyond matching the underlying commission/payment rows at
  read time.

SEE ALSO:
  - commission/: outstanding balance is defined over commission status
  - booking/: confirm requires an incoming payment recorded here
*/
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// PAYMENT LEDGER
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

// RecordIncoming appends a completed customer payment for a booking.
func (l *Ledger) RecordIncoming(ctx context.Context, agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money, method, reference string) (*ledger.Payment, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	booking, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &ledger.NotFoundError{Resource: "booking", ID: string(bookingID)}
	}

	p := ledger.Payment{
		ID:        ledger.PaymentID(uuid.NewString()),
		AgentID:   agentID,
		BookingID: bookingID,
		Amount:    amount,
		Direction: ledger.PaymentIncoming,
		Status:    ledger.PaymentCompleted,
		Method:    method,
		Reference: reference,
		CreatedAt: l.now(),
	}
	if err := l.Store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordPayout appends a completed outgoing payment for a paid commission.
// Called by the surface layer after the commission ledger marks the
// commission paid; this package never drives commission status itself.
func (l *Ledger) RecordPayout(ctx context.Context, c *ledger.Commission, method, reference string) (*ledger.Payment, error) {
	if c == nil {
		return nil, &ledger.NotFoundError{Resource: "commission", ID: ""}
	}
	p := ledger.Payment{
		ID:           ledger.PaymentID(uuid.NewString()),
		AgentID:      c.AgentID,
		BookingID:    c.BookingID,
		CommissionID: c.ID,
		Amount:       c.Amount,
		Direction:    ledger.PaymentOutgoing,
		Status:       ledger.PaymentCompleted,
		Method:       method,
		Reference:    reference,
		CreatedAt:    l.now(),
	}
	if err := l.Store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// AGGREGATE QUERIES
// =============================================================================

// OutstandingBalance returns what the agency still owes the agent: the
// sum of pending and approved commission amounts.
func (l *Ledger) OutstandingBalance(ctx context.Context, agentID ledger.AgentID) (ledger.Money, error) {
	zero := ledger.NewMoney(0)

	agent, err := l.Store.GetAgent(ctx, agentID)
	if err != nil {
		return zero, err
	}
	if agent == nil {
		return zero, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}

	commissions, err := l.Store.ListCommissionsByAgent(ctx, agentID)
	if err != nil {
		return zero, err
	}

	total := zero
	for _, c := range commissions {
		if c.Status == ledger.CommissionPending || c.Status == ledger.CommissionApproved {
			total = total.Add(c.Amount)
		}
	}
	return total, nil
}

// StatusTotal aggregates count and value for one payment status.
type StatusTotal struct {
	Count int
	Total ledger.Money
}

// Summary groups an agent's payments by status and direction.
type Summary struct {
	AgentID       ledger.AgentID
	ByStatus      map[ledger.PaymentStatus]StatusTotal
	TotalIncoming ledger.Money
	TotalOutgoing ledger.Money
}

func (l *Ledger) SummaryForAgent(ctx context.Context, agentID ledger.AgentID) (*Summary, error) {
	agent, err := l.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}

	payments, err := l.Store.ListPaymentsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		AgentID:       agentID,
		ByStatus:      make(map[ledger.PaymentStatus]StatusTotal),
		TotalIncoming: ledger.NewMoney(0),
		TotalOutgoing: ledger.NewMoney(0),
	}
	for _, p := range payments {
		st := s.ByStatus[p.Status]
		st.Count++
		if st.Total.Currency == "" {
			st.Total = p.Amount.Zero()
		}
		st.Total = st.Total.Add(p.Amount)
		s.ByStatus[p.Status] = st

		if p.Status != ledger.PaymentCompleted {
			continue
		}
		switch p.Direction {
		case ledger.PaymentIncoming:
			s.TotalIncoming = s.TotalIncoming.Add(p.Amount)
		case ledger.PaymentOutgoing:
			s.TotalOutgoing = s.TotalOutgoing.Add(p.Amount)
		}
	}
	return s, nil
}
