/*
Package booking owns the booking lifecycle state machine.

PURPOSE:
  Bookings move along a fixed directed graph:

      pending ──▶ confirmed ──▶ completed
         │            │
         └────────────┴───────▶ cancelled

  completed and cancelled are terminal. Every transition is driven
  through this package - never by direct field mutation - and this
  package is the single caller that triggers credit and commission
  operations at the correct transition boundaries.

TRANSITION SIDE EFFECTS:
  create    reserve credit for the booking amount (atomic with creation)
  confirm   none (requires a recorded payment)
  cancel    cancel any commission; release the credit hold
  complete  create the commission; release the credit hold

  Releasing on completion reflects that credit caps open exposure, not
  lifetime spend: a finished booking no longer counts against the agent.

FAILURE ASYMMETRY:
  Creation is all-or-nothing: booking row and reservation commit
  together or not at all. For the other transitions, the status change
  is the primary operation - once it commits, failures in the secondary
  ledger steps are logged and audited but never roll the status back.
  The reconciliation sweep corrects the resulting drift out-of-band.
  User-visible booking status is never held hostage by bookkeeping.

CONCURRENCY:
  Transitions on one booking are serialized by the store's versioned
  writes. A stale write is retried with a short backoff; when the
  bounded budget is exhausted the caller gets ConcurrencyConflictError
  and may retry the whole operation.

SEE ALSO:
  - credit/: reservation and release semantics
  - commission/: commission derivation on completion
  - reconcile/: the drift-correction backstop
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/voyago/agency-ledger/commission"
	"github.com/voyago/agency-ledger/credit"
	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// DOMAIN ERRORS
// =============================================================================

var (
	// ErrPaymentRequired is returned when confirming a booking with no
	// recorded payment.
	ErrPaymentRequired = errors.New("cannot confirm booking without a recorded payment")

	// ErrNotYetEnded is returned when completing a booking before its end
	// date has passed.
	ErrNotYetEnded = errors.New("booking end date has not passed")
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// transitions is the whole state graph. Anything not listed is rejected.
var transitions = map[ledger.BookingStatus][]ledger.BookingStatus{
	ledger.BookingPending:   {ledger.BookingConfirmed, ledger.BookingCancelled},
	ledger.BookingConfirmed: {ledger.BookingCompleted, ledger.BookingCancelled},
	ledger.BookingCompleted: {},
	ledger.BookingCancelled: {},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to ledger.BookingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// =============================================================================
// STATE MACHINE
// =============================================================================

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 25 * time.Millisecond
)

type StateMachine struct {
	Store       ledger.TxStore
	Credit      *credit.Ledger
	Commissions *commission.Ledger

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time

	// Retry budget for optimistic-write conflicts.
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewStateMachine(store ledger.TxStore) *StateMachine {
	return &StateMachine{
		Store:       store,
		Credit:      credit.NewLedger(store),
		Commissions: commission.NewLedger(store),
		Now:         time.Now,
		MaxAttempts: defaultMaxAttempts,
		RetryDelay:  defaultRetryDelay,
	}
}

func (m *StateMachine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *StateMachine) maxAttempts() int {
	if m.MaxAttempts > 0 {
		return m.MaxAttempts
	}
	return defaultMaxAttempts
}

// =============================================================================
// CREATE - Atomic with the credit reservation
// =============================================================================

type CreateInput struct {
	ID          ledger.BookingID // optional; generated when empty
	AgentID     ledger.AgentID   // optional; empty = no agent, no credit
	TotalAmount ledger.Money
	StartDate   time.Time
	EndDate     time.Time
}

// Create makes a new pending booking. When the booking belongs to an
// agent, the credit reservation commits in the same transaction: either
// both the booking and the hold exist afterwards, or neither does.
func (m *StateMachine) Create(ctx context.Context, in CreateInput) (*ledger.Booking, error) {
	if !in.TotalAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, fmt.Errorf("booking end date %s before start date %s",
			in.EndDate.Format("2006-01-02"), in.StartDate.Format("2006-01-02"))
	}

	if in.AgentID != "" {
		agent, err := m.Store.GetAgent(ctx, in.AgentID)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, &ledger.NotFoundError{Resource: "agent", ID: string(in.AgentID)}
		}

		// Advisory pre-check for a fast, friendly rejection. The store's
		// conditional Reserve below is the real enforcement.
		check, err := m.Credit.CanReserve(ctx, in.AgentID, in.TotalAmount)
		if err != nil {
			return nil, err
		}
		if !check.Allowed {
			return nil, &ledger.InsufficientCreditError{
				AgentID:   in.AgentID,
				Required:  in.TotalAmount,
				Available: check.Available,
				Shortfall: check.Shortfall,
			}
		}
	}

	if in.ID == "" {
		in.ID = ledger.BookingID(uuid.NewString())
	}
	now := m.now()
	b := ledger.Booking{
		ID:          in.ID,
		AgentID:     in.AgentID,
		TotalAmount: in.TotalAmount,
		Status:      ledger.BookingPending,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedAt:   now,
	}

	err := m.Store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CreateBooking(ctx, b); err != nil {
			return err
		}
		if b.HasAgent() {
			if _, err := s.Reserve(ctx, b.AgentID, b.ID, b.TotalAmount); err != nil {
				return err
			}
		}
		return s.AppendAudit(ctx, ledger.AuditEntry{
			ActorID:  "system",
			Action:   ledger.AuditBookingCreated,
			EntityID: string(b.ID),
			Payload: map[string]string{
				"agent_id": string(b.AgentID),
				"amount":   b.TotalAmount.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Confirm moves pending -> confirmed. Requires at least a partial payment
// on record for the booking.
func (m *StateMachine) Confirm(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	b, err := m.transition(ctx, id, ledger.BookingConfirmed, func(b ledger.Booking) error {
		payments, err := m.Store.ListPaymentsByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Direction == ledger.PaymentIncoming &&
				p.Status != ledger.PaymentFailed && p.Status != ledger.PaymentCancelled {
				return nil
			}
		}
		return ErrPaymentRequired
	})
	if err != nil {
		return nil, err
	}
	m.audit(ctx, ledger.AuditBookingConfirmed, b.ID, nil)
	return b, nil
}

// Cancel moves pending|confirmed -> cancelled, then cancels any commission
// and releases the credit hold as best-effort secondary steps.
func (m *StateMachine) Cancel(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	b, err := m.transition(ctx, id, ledger.BookingCancelled, nil)
	if err != nil {
		return nil, err
	}
	m.audit(ctx, ledger.AuditBookingCancelled, b.ID, nil)

	m.sideEffect(ctx, b.ID, "cancel_commission", func() error {
		_, err := m.Commissions.CancelForBooking(ctx, b.ID)
		return err
	})
	m.sideEffect(ctx, b.ID, "release_credit", func() error {
		_, err := m.Credit.Release(ctx, b.ID, "booking cancelled")
		return err
	})
	return b, nil
}

// Complete moves confirmed -> completed once the booking has ended, then
// creates the commission and releases the credit hold as best-effort
// secondary steps.
func (m *StateMachine) Complete(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	b, err := m.transition(ctx, id, ledger.BookingCompleted, func(b ledger.Booking) error {
		if m.now().Before(b.EndDate) {
			return ErrNotYetEnded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.audit(ctx, ledger.AuditBookingCompleted, b.ID, nil)

	m.sideEffect(ctx, b.ID, "create_commission", func() error {
		_, err := m.Commissions.CreateForBooking(ctx, b.ID)
		return err
	})
	m.sideEffect(ctx, b.ID, "release_credit", func() error {
		_, err := m.Credit.Release(ctx, b.ID, "booking completed")
		return err
	})
	return b, nil
}

// transition performs the primary status change under optimistic
// concurrency with a bounded retry. The precondition is re-evaluated on
// every attempt against the freshly loaded booking.
func (m *StateMachine) transition(
	ctx context.Context,
	id ledger.BookingID,
	target ledger.BookingStatus,
	precondition func(ledger.Booking) error,
) (*ledger.Booking, error) {
	attempts := m.maxAttempts()

	for attempt := 1; ; attempt++ {
		b, err := m.Store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, &ledger.NotFoundError{Resource: "booking", ID: string(id)}
		}
		if !CanTransition(b.Status, target) {
			return nil, &ledger.InvalidStateError{
				Entity: "booking", ID: string(id),
				From: string(b.Status), To: string(target),
			}
		}
		if precondition != nil {
			if err := precondition(*b); err != nil {
				return nil, err
			}
		}

		updated := *b
		updated.Status = target
		err = m.Store.UpdateBooking(ctx, updated)
		if err == nil {
			updated.Version++
			updated.UpdatedAt = m.now()
			return &updated, nil
		}
		if !errors.Is(err, ledger.ErrConcurrencyConflict) {
			return nil, err
		}
		if attempt >= attempts {
			return nil, &ledger.ConcurrencyConflictError{
				Entity: "booking", ID: string(id), Attempts: attempts,
			}
		}
		log.Printf("[StateMachine] stale write on booking %s (attempt %d/%d), retrying", id, attempt, attempts)
		time.Sleep(time.Duration(attempt) * m.retryDelay())
	}
}

func (m *StateMachine) retryDelay() time.Duration {
	if m.RetryDelay > 0 {
		return m.RetryDelay
	}
	return defaultRetryDelay
}

// =============================================================================
// FINANCIAL ADJUSTMENT
// =============================================================================

// AdjustAmount changes a booking's total. Authorized financial adjustment
// only; the credit hold is re-sized in the same transaction as the booking
// write, and the commission (if any) is recalculated afterwards.
func (m *StateMachine) AdjustAmount(ctx context.Context, id ledger.BookingID, newAmount ledger.Money, actor string) (*ledger.Booking, error) {
	if !newAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	attempts := m.maxAttempts()

	for attempt := 1; ; attempt++ {
		b, err := m.Store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, &ledger.NotFoundError{Resource: "booking", ID: string(id)}
		}
		if b.Status.Terminal() {
			return nil, &ledger.InvalidStateError{
				Entity: "booking", ID: string(id),
				From: string(b.Status), To: "amount_adjusted",
			}
		}

		updated := *b
		updated.TotalAmount = newAmount
		err = m.Store.WithTx(ctx, func(s ledger.Store) error {
			if b.HasAgent() {
				if _, err := s.AdjustReservation(ctx, b.ID, newAmount); err != nil {
					return err
				}
			}
			if err := s.UpdateBooking(ctx, updated); err != nil {
				return err
			}
			return s.AppendAudit(ctx, ledger.AuditEntry{
				ActorID:  actor,
				Action:   ledger.AuditAmountAdjusted,
				EntityID: string(b.ID),
				Payload: map[string]string{
					"old_amount": b.TotalAmount.String(),
					"new_amount": newAmount.String(),
				},
			})
		})
		if err == nil {
			updated.Version++
			updated.UpdatedAt = m.now()
			m.sideEffect(ctx, b.ID, "recalculate_commission", func() error {
				_, err := m.Commissions.RecalculateForBooking(ctx, b.ID)
				return err
			})
			return &updated, nil
		}
		if !errors.Is(err, ledger.ErrConcurrencyConflict) {
			return nil, err
		}
		if attempt >= attempts {
			return nil, &ledger.ConcurrencyConflictError{
				Entity: "booking", ID: string(id), Attempts: attempts,
			}
		}
		time.Sleep(time.Duration(attempt) * m.retryDelay())
	}
}

// =============================================================================
// SECONDARY SIDE EFFECTS - log and continue
// =============================================================================

// sideEffect runs a secondary ledger step after a committed transition.
// Failure is logged with full context and recorded in the audit log for
// the reconciliation sweep; it never fails the transition.
func (m *StateMachine) sideEffect(ctx context.Context, bookingID ledger.BookingID, name string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	log.Printf("[StateMachine] booking %s: side effect %s failed: %v", bookingID, name, err)
	if auditErr := m.Store.AppendAudit(ctx, ledger.AuditEntry{
		ActorID:  "system",
		Action:   ledger.AuditSideEffectFailed,
		EntityID: string(bookingID),
		Payload:  map[string]string{"operation": name, "error": err.Error()},
	}); auditErr != nil {
		log.Printf("[StateMachine] booking %s: audit append failed: %v", bookingID, auditErr)
	}
}

func (m *StateMachine) audit(ctx context.Context, action ledger.AuditAction, id ledger.BookingID, payload map[string]string) {
	if err := m.Store.AppendAudit(ctx, ledger.AuditEntry{
		ActorID:  "system",
		Action:   action,
		EntityID: string(id),
		Payload:  payload,
	}); err != nil {
		log.Printf("[StateMachine] booking %s: audit append failed: %v", id, err)
	}
}
