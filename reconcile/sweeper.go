/*
Package reconcile converges cached ledger state with authoritative state.

PURPOSE:
  Cross-entity consistency in this system is not a distributed
  transaction; it is atomic single-entity operations plus this sweep.
  When a secondary side effect fails after a committed booking
  transition (a credit release, a commission creation), the drift is
  logged and left for the sweep to repair.

WHAT ONE RUN DOES:
  1. Repair: release any unreleased reservation whose booking already
     reached a terminal status.
  2. Recalculate: for every agent, overwrite the cached credit counter
     with the sum of unreleased reservations, recording non-zero deltas.
  3. Commission sweep: create missing commissions for completed
     bookings, cancel live commissions of cancelled bookings.

  Every step is idempotent. Running the sweep twice in a row with no
  intervening traffic reports zero corrections on the second run, and
  running it concurrently with live traffic only converges state, never
  corrupts it.

SEE ALSO:
  - api/scheduler.go: runs the sweep on an interval
  - credit/: Recalculate
  - commission/: Sweep
*/
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/voyago/agency-ledger/commission"
	"github.com/voyago/agency-ledger/credit"
	"github.com/voyago/agency-ledger/ledger"
)

// Sweeper runs reconciliation sweeps and records their outcomes.
type Sweeper struct {
	Store       ledger.Store
	Credit      *credit.Ledger
	Commissions *commission.Ledger

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewSweeper(store ledger.Store) *Sweeper {
	return &Sweeper{
		Store:       store,
		Credit:      credit.NewLedger(store),
		Commissions: commission.NewLedger(store),
		Now:         time.Now,
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run executes one full sweep and records a ReconcileRun row.
func (s *Sweeper) Run(ctx context.Context) (*ledger.ReconcileRun, error) {
	run := ledger.ReconcileRun{
		ID:        ledger.RunID(uuid.NewString()),
		StartedAt: s.now(),
	}

	agents, err := s.Store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		// Step 1: repair holds orphaned by failed release side effects.
		repaired, err := s.repairOrphanedReservations(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("repair reservations for agent %s: %w", agent.ID, err)
		}
		run.ReservationsRepaired += repaired

		// Step 2: converge the cached counter.
		result, err := s.Credit.Recalculate(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("recalculate credit for agent %s: %w", agent.ID, err)
		}
		if !result.Delta.IsZero() {
			log.Printf("[Reconcile] agent %s: credit_used corrected %s -> %s",
				agent.ID, result.OldValue.Value.StringFixed(2), result.NewValue.Value.StringFixed(2))
			run.CreditCorrections++
		}
		run.AgentsChecked++
	}

	// Step 3: converge commission existence with booking state.
	sweep, err := s.Commissions.Sweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("commission sweep: %w", err)
	}
	run.CommissionsCreated = sweep.Created
	run.CommissionsCancelled = sweep.Cancelled

	run.FinishedAt = s.now()
	if err := s.Store.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	if err := s.Store.AppendAudit(ctx, ledger.AuditEntry{
		ActorID:  "system",
		Action:   ledger.AuditReconcileRun,
		EntityID: string(run.ID),
		Payload: map[string]string{
			"agents_checked":        fmt.Sprint(run.AgentsChecked),
			"credit_corrections":    fmt.Sprint(run.CreditCorrections),
			"commissions_created":   fmt.Sprint(run.CommissionsCreated),
			"commissions_cancelled": fmt.Sprint(run.CommissionsCancelled),
			"reservations_repaired": fmt.Sprint(run.ReservationsRepaired),
		},
	}); err != nil {
		log.Printf("[Reconcile] audit append failed: %v", err)
	}

	log.Printf("[Reconcile] run %s: %d agents, %d credit corrections, %d commissions created, %d cancelled, %d reservations repaired",
		run.ID, run.AgentsChecked, run.CreditCorrections, run.CommissionsCreated, run.CommissionsCancelled, run.ReservationsRepaired)
	return &run, nil
}

// repairOrphanedReservations releases holds whose booking is already
// terminal. These exist when the release side effect failed after a
// committed cancel/complete transition.
func (s *Sweeper) repairOrphanedReservations(ctx context.Context, agentID ledger.AgentID) (int, error) {
	active, err := s.Store.ActiveReservations(ctx, agentID)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, r := range active {
		booking, err := s.Store.GetBooking(ctx, r.BookingID)
		if err != nil {
			return repaired, err
		}
		if booking != nil && !booking.Status.Terminal() {
			continue
		}
		reason := "reconcile: booking missing"
		if booking != nil {
			reason = "reconcile: booking " + string(booking.Status)
		}
		released, err := s.Credit.Release(ctx, r.BookingID, reason)
		if err != nil {
			return repaired, err
		}
		if released != nil {
			repaired++
		}
	}
	return repaired, nil
}
