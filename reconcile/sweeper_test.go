package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/agency-ledger/booking"
	"github.com/voyago/agency-ledger/ledger"
	"github.com/voyago/agency-ledger/ledger/store"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	return NewSweeper(m), m
}

func seedAgent(t *testing.T, m *store.Memory, id ledger.AgentID) {
	t.Helper()
	require.NoError(t, m.CreateAgent(context.Background(), ledger.AgentAccount{
		ID:             id,
		Name:           "Agent " + string(id),
		CreditLimit:    ledger.NewMoney(10000),
		CommissionRate: decimal.NewFromInt(10),
	}))
}

func TestRunOnCleanStateIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.AgentsChecked)
	assert.Zero(t, run.CreditCorrections)
	assert.Zero(t, run.CommissionsCreated)
	assert.Zero(t, run.CommissionsCancelled)
	assert.Zero(t, run.ReservationsRepaired)

	// The run was recorded.
	runs, err := m.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunRepairsOrphanedReservation(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	// A cancelled booking whose release side effect never happened.
	require.NoError(t, m.CreateBooking(ctx, ledger.Booking{
		ID:          "bk-1",
		AgentID:     "agt-1",
		TotalAmount: ledger.NewMoney(800),
		Status:      ledger.BookingCancelled,
		StartDate:   time.Now().Add(-48 * time.Hour),
		EndDate:     time.Now().Add(-24 * time.Hour),
	}))
	_, err := m.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(800))
	require.NoError(t, err)

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ReservationsRepaired)

	// The hold is gone and the counter converged.
	active, err := m.ActiveReservations(ctx, "agt-1")
	require.NoError(t, err)
	assert.Empty(t, active)
	agent, err := m.GetAgent(ctx, "agt-1")
	require.NoError(t, err)
	assert.True(t, agent.CreditUsed.IsZero())

	// The second run has nothing left to fix.
	run, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.ReservationsRepaired)
	assert.Zero(t, run.CreditCorrections)
}

func TestRunReleasesHoldOfMissingBooking(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	// A hold pointing at a booking that no longer exists.
	_, err := m.Reserve(ctx, "agt-1", "bk-ghost", ledger.NewMoney(500))
	require.NoError(t, err)

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ReservationsRepaired)

	agent, err := m.GetAgent(ctx, "agt-1")
	require.NoError(t, err)
	assert.True(t, agent.CreditUsed.IsZero())
}

func TestRunCorrectsDriftedCounter(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	require.NoError(t, m.CreateBooking(ctx, ledger.Booking{
		ID:          "bk-1",
		AgentID:     "agt-1",
		TotalAmount: ledger.NewMoney(600),
		Status:      ledger.BookingConfirmed,
		StartDate:   time.Now(),
		EndDate:     time.Now().Add(24 * time.Hour),
	}))
	_, err := m.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(600))
	require.NoError(t, err)

	// Drift the cache away from the reservation ledger.
	require.NoError(t, m.OverwriteCreditUsed(ctx, "agt-1", ledger.NewMoney(50)))

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CreditCorrections)

	agent, err := m.GetAgent(ctx, "agt-1")
	require.NoError(t, err)
	assert.True(t, agent.CreditUsed.Equal(ledger.NewMoney(600)))
}

func TestRunCreatesMissingCommission(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	// A completed booking whose commission side effect never happened.
	require.NoError(t, m.CreateBooking(ctx, ledger.Booking{
		ID:          "bk-1",
		AgentID:     "agt-1",
		TotalAmount: ledger.NewMoney(1500),
		Status:      ledger.BookingCompleted,
		StartDate:   time.Now().Add(-48 * time.Hour),
		EndDate:     time.Now().Add(-24 * time.Hour),
	}))

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CommissionsCreated)

	c, err := m.GetCommissionByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.Amount.Equal(ledger.NewMoney(150)))
}

func TestRunConvergesAfterFullLifecycle(t *testing.T) {
	ctx := context.Background()
	s, m := newTestSweeper(t)
	seedAgent(t, m, "agt-1")

	// Drive a booking through the state machine, then sweep. Nothing
	// should need correcting: inline side effects already did the work.
	sm := booking.NewStateMachine(m)
	past := time.Now().Add(-24 * time.Hour)
	b, err := sm.Create(ctx, booking.CreateInput{
		ID: "bk-1", AgentID: "agt-1", TotalAmount: ledger.NewMoney(2000),
		StartDate: past.Add(-72 * time.Hour), EndDate: past,
	})
	require.NoError(t, err)
	require.NoError(t, m.CreatePayment(ctx, ledger.Payment{
		ID: "pay-1", AgentID: "agt-1", BookingID: b.ID,
		Amount: ledger.NewMoney(2000), Direction: ledger.PaymentIncoming,
		Status: ledger.PaymentCompleted,
	}))
	_, err = sm.Confirm(ctx, b.ID)
	require.NoError(t, err)
	_, err = sm.Complete(ctx, b.ID)
	require.NoError(t, err)

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.AgentsChecked)
	assert.Zero(t, run.CreditCorrections)
	assert.Zero(t, run.CommissionsCreated)
	assert.Zero(t, run.CommissionsCancelled)
	assert.Zero(t, run.ReservationsRepaired)
}
