/*
Package credit computes and mutates agent credit availability.

PURPOSE:
  The credit ledger caps each agent's aggregate open exposure: the total
  value of their pending and confirmed bookings may never exceed the
  configured credit limit. Credit is a pipeline constraint, not a cost -
  a hold is placed when a booking is created and released exactly once
  when the booking reaches a terminal state.

SOURCE OF TRUTH:
  The reservation ledger (one row per hold, with a release flag) is
  authoritative. The agent row's CreditUsed is a cache maintained inline
  by Reserve/Release and overwritten wholesale by Recalculate. Drift
  between the two is a bug that Recalculate converges, not a state the
  rest of the system reasons about.

ENFORCEMENT vs. PRE-CHECK:
  CanReserve is a fast, friendly pre-check for producing a clear
  rejection message. It is NOT the enforcement: the store's conditional
  Reserve is, and it stays correct when two bookings race on the same
  agent. Callers must treat check-then-reserve as advisory only.

SEE ALSO:
  - ledger/store.go: the conditional-atomic Reserve contract
  - reconcile/: the periodic sweep that runs Recalculate for all agents
  - booking/: the only caller that reserves and releases
*/
package credit

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// HEALTH CLASSIFICATION
// =============================================================================

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Utilization thresholds, in percent.
var (
	warningThreshold  = decimal.NewFromInt(75)
	criticalThreshold = decimal.NewFromInt(90)
)

func classify(utilization decimal.Decimal) Health {
	switch {
	case utilization.GreaterThanOrEqual(criticalThreshold):
		return HealthCritical
	case utilization.GreaterThanOrEqual(warningThreshold):
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// =============================================================================
// CREDIT LEDGER
// =============================================================================

type Ledger struct {
	Store ledger.Store
}

func NewLedger(store ledger.Store) *Ledger {
	return &Ledger{Store: store}
}

// Status is the read model for an agent's credit position.
type Status struct {
	AgentID         ledger.AgentID
	CreditLimit     ledger.Money
	CreditUsed      ledger.Money
	AvailableCredit ledger.Money
	Utilization     decimal.Decimal // percent, 0-100+
	Health          Health
}

// ReserveCheck is the result of the advisory pre-check.
type ReserveCheck struct {
	Allowed   bool
	Available ledger.Money
	Shortfall ledger.Money
}

// RecalcResult reports the correction applied by Recalculate.
type RecalcResult struct {
	AgentID  ledger.AgentID
	OldValue ledger.Money
	NewValue ledger.Money
	Delta    ledger.Money
}

// Status returns the agent's credit position from the cached counter.
func (l *Ledger) Status(ctx context.Context, agentID ledger.AgentID) (*Status, error) {
	agent, err := l.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}

	available := agent.CreditLimit.Sub(agent.CreditUsed)
	if available.IsNegative() {
		available = available.Zero()
	}

	utilization := decimal.Zero
	if agent.CreditLimit.IsPositive() {
		utilization = agent.CreditUsed.Value.
			Div(agent.CreditLimit.Value).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	} else if agent.CreditUsed.IsPositive() {
		// Zero limit with nonzero usage: fully saturated.
		utilization = decimal.NewFromInt(100)
	}

	return &Status{
		AgentID:         agent.ID,
		CreditLimit:     agent.CreditLimit,
		CreditUsed:      agent.CreditUsed,
		AvailableCredit: available,
		Utilization:     utilization,
		Health:          classify(utilization),
	}, nil
}

// CanReserve is a pure predicate: would a reservation of amount fit right
// now? The answer may be stale by the time the caller acts on it; the
// store-level Reserve remains the enforcement.
func (l *Ledger) CanReserve(ctx context.Context, agentID ledger.AgentID, amount ledger.Money) (*ReserveCheck, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	status, err := l.Status(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if amount.LessThanOrEqual(status.AvailableCredit) {
		return &ReserveCheck{Allowed: true, Available: status.AvailableCredit, Shortfall: amount.Zero()}, nil
	}
	return &ReserveCheck{
		Allowed:   false,
		Available: status.AvailableCredit,
		Shortfall: amount.Sub(status.AvailableCredit),
	}, nil
}

// Reserve places a hold for bookingID. Delegates to the store's single
// conditional atomic operation; fails with InsufficientCreditError without
// mutating state when the hold would not fit.
func (l *Ledger) Reserve(ctx context.Context, agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	return l.Store.Reserve(ctx, agentID, bookingID, amount)
}

// Release releases the hold for bookingID, clamped at a usage floor of
// zero. Idempotent per booking: a second release finds no unreleased
// reservation and returns (nil, nil).
func (l *Ledger) Release(ctx context.Context, bookingID ledger.BookingID, reason string) (*ledger.Reservation, error) {
	return l.Store.Release(ctx, bookingID, reason)
}

// Adjust changes the held amount for a booking whose value was adjusted,
// re-checking the limit when the hold grows.
func (l *Ledger) Adjust(ctx context.Context, bookingID ledger.BookingID, newAmount ledger.Money) (*ledger.Reservation, error) {
	return l.Store.AdjustReservation(ctx, bookingID, newAmount)
}

// Recalculate overwrites the cached counter with the authoritative sum of
// unreleased reservations. This is the drift-correction mechanism; it does
// not fail on drift, it reports the correction applied.
func (l *Ledger) Recalculate(ctx context.Context, agentID ledger.AgentID) (*RecalcResult, error) {
	agent, err := l.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}

	authoritative, err := l.Store.CreditUsed(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := l.Store.OverwriteCreditUsed(ctx, agentID, authoritative); err != nil {
		return nil, err
	}

	return &RecalcResult{
		AgentID:  agentID,
		OldValue: agent.CreditUsed,
		NewValue: authoritative,
		Delta:    authoritative.Sub(agent.CreditUsed),
	}, nil
}
