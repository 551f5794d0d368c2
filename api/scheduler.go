/*
scheduler.go - Background reconciliation scheduler

PURPOSE:
  Periodically runs the reconciliation sweep so that drift from failed
  secondary side effects (unreleased credit holds, missing commissions,
  stale cached counters) is corrected without operator intervention.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Every tick is a full sweep: every step is idempotent, so overlap
    with live traffic or a manual trigger is harmless
  - Records each run for audit and UI display

USAGE:
  scheduler := NewReconcileScheduler(handler.Sweeper)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconcile endpoint (manual sweep)
  - reconcile/sweeper.go: what one run does
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/voyago/agency-ledger/reconcile"
)

// ReconcileScheduler runs the sweep on an interval.
type ReconcileScheduler struct {
	Sweeper  *reconcile.Sweeper
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconcileScheduler creates a new scheduler with a 1 hour interval.
func NewReconcileScheduler(sweeper *reconcile.Sweeper) *ReconcileScheduler {
	return &ReconcileScheduler{
		Sweeper:  sweeper,
		Interval: 1 * time.Hour,
		Enabled:  true,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)
	go rs.run()

	log.Printf("[Scheduler] Started with sweep interval: %v", rs.Interval)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReconcileScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconcileScheduler) sweep() {
	if _, err := rs.Sweeper.Run(context.Background()); err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReconcileScheduler) RunNow() {
	rs.sweep()
}
