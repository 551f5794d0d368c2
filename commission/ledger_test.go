package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/agency-ledger/ledger"
	"github.com/voyago/agency-ledger/ledger/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	return NewLedger(m), m
}

func seedAgent(t *testing.T, m *store.Memory, id ledger.AgentID, rate int64) {
	t.Helper()
	require.NoError(t, m.CreateAgent(context.Background(), ledger.AgentAccount{
		ID:             id,
		Name:           "Agent " + string(id),
		CreditLimit:    ledger.NewMoney(100000),
		CommissionRate: decimal.NewFromInt(rate),
	}))
}

func seedBooking(t *testing.T, m *store.Memory, id ledger.BookingID, agentID ledger.AgentID, amount float64, status ledger.BookingStatus) {
	t.Helper()
	require.NoError(t, m.CreateBooking(context.Background(), ledger.Booking{
		ID:          id,
		AgentID:     agentID,
		TotalAmount: ledger.NewMoney(amount),
		Status:      status,
		StartDate:   time.Now().Add(-48 * time.Hour),
		EndDate:     time.Now().Add(-24 * time.Hour),
	}))
}

func TestCreateForCompletedBooking(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 12)
	seedBooking(t, m, "bk-1", "agt-1", 2500, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, ledger.CommissionPending, c.Status)
	assert.Equal(t, "12", c.Rate.String())
	assert.True(t, c.Amount.Equal(ledger.NewMoney(300)), "12%% of 2500, got %s", c.Amount)
	assert.True(t, c.DueDate.After(c.CreatedAt))
}

func TestCreateAppliesDefaultRate(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 0) // no configured rate
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.Rate.Equal(DefaultRate))
	assert.True(t, c.Amount.Equal(ledger.NewMoney(100)))
}

func TestCreateRoundsToCents(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 333.33, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "33.33 USD", c.Amount.String())
}

func TestCreatePreconditionsNoOp(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)

	// Booking not completed yet.
	seedBooking(t, m, "bk-pending", "agt-1", 1000, ledger.BookingPending)
	c, err := l.CreateForBooking(ctx, "bk-pending")
	require.NoError(t, err)
	assert.Nil(t, c)

	// Booking without an agent.
	seedBooking(t, m, "bk-direct", "", 1000, ledger.BookingCompleted)
	c, err = l.CreateForBooking(ctx, "bk-direct")
	require.NoError(t, err)
	assert.Nil(t, c)

	// Booking does not exist at all.
	c, err = l.CreateForBooking(ctx, "bk-ghost")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCreateIsIdempotentPerBooking(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	first, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Nil(t, second, "second creation must be a no-op")

	got, err := m.GetCommissionByBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestRecalculateRefreshesAmount(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)

	// The booking amount changes after the commission exists.
	b, err := m.GetBooking(ctx, "bk-1")
	require.NoError(t, err)
	b.TotalAmount = ledger.NewMoney(1500)
	require.NoError(t, m.UpdateBooking(ctx, *b))

	updated, err := l.RecalculateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.BookingAmount.Equal(ledger.NewMoney(1500)))
	assert.True(t, updated.Amount.Equal(ledger.NewMoney(150)))
}

func TestPaidCommissionIsImmutable(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	_, err = l.Approve(ctx, c.ID, "admin")
	require.NoError(t, err)
	paid, err := l.MarkAsPaid(ctx, c.ID, "bank_transfer", "tx-123")
	require.NoError(t, err)
	require.Equal(t, ledger.CommissionPaid, paid.Status)

	// Recalculation after payout must not touch the amount.
	b, err := m.GetBooking(ctx, "bk-1")
	require.NoError(t, err)
	b.TotalAmount = ledger.NewMoney(9999)
	require.NoError(t, m.UpdateBooking(ctx, *b))

	got, err := l.RecalculateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(ledger.NewMoney(100)), "paid amount must be frozen")

	// Cancellation after payout is a no-op too.
	got, err = l.CancelForBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CommissionPaid, got.Status)
}

func TestApproveRequiresPending(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)

	approved, err := l.Approve(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, ledger.CommissionApproved, approved.Status)
	assert.Equal(t, "admin", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	// Approving twice is an invalid transition.
	_, err = l.Approve(ctx, c.ID, "admin")
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))
}

func TestMarkAsPaidRequiresApproved(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	c, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)

	// Pending -> paid skips approval and is rejected.
	_, err = l.MarkAsPaid(ctx, c.ID, "bank_transfer", "tx-1")
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))

	var ise *ledger.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, string(ledger.CommissionPending), ise.From)
	assert.Equal(t, string(ledger.CommissionPaid), ise.To)
}

func TestSummaryForAgent(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)
	seedBooking(t, m, "bk-2", "agt-1", 2000, ledger.BookingCompleted)
	seedBooking(t, m, "bk-3", "agt-1", 3000, ledger.BookingCompleted)

	c1, err := l.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	_, err = l.CreateForBooking(ctx, "bk-2")
	require.NoError(t, err)
	c3, err := l.CreateForBooking(ctx, "bk-3")
	require.NoError(t, err)

	_, err = l.Approve(ctx, c1.ID, "admin")
	require.NoError(t, err)
	_, err = l.Approve(ctx, c3.ID, "admin")
	require.NoError(t, err)
	_, err = l.MarkAsPaid(ctx, c3.ID, "bank_transfer", "tx-1")
	require.NoError(t, err)

	s, err := l.SummaryForAgent(ctx, "agt-1")
	require.NoError(t, err)

	// bk-1 approved (100) + bk-2 pending (200) outstanding, bk-3 paid (300).
	assert.True(t, s.Outstanding.Equal(ledger.NewMoney(300)), "got %s", s.Outstanding)
	assert.True(t, s.Paid.Equal(ledger.NewMoney(300)), "got %s", s.Paid)
	assert.Equal(t, 1, s.ByStatus[ledger.CommissionPending].Count)
	assert.Equal(t, 1, s.ByStatus[ledger.CommissionApproved].Count)
	assert.Equal(t, 1, s.ByStatus[ledger.CommissionPaid].Count)
}

func TestSweepConvergesWithBookings(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1", 10)

	// A completed booking with no commission: the sweep must create one.
	seedBooking(t, m, "bk-done", "agt-1", 1000, ledger.BookingCompleted)

	// A live commission whose booking got cancelled: the sweep must cancel it.
	seedBooking(t, m, "bk-dead", "agt-1", 2000, ledger.BookingCompleted)
	c, err := l.CreateForBooking(ctx, "bk-dead")
	require.NoError(t, err)
	require.NotNil(t, c)
	b, err := m.GetBooking(ctx, "bk-dead")
	require.NoError(t, err)
	b.Status = ledger.BookingCancelled
	require.NoError(t, m.UpdateBooking(ctx, *b))

	result, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Cancelled)

	created, err := m.GetCommissionByBooking(ctx, "bk-done")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, ledger.CommissionPending, created.Status)

	cancelled, err := m.GetCommissionByBooking(ctx, "bk-dead")
	require.NoError(t, err)
	assert.Equal(t, ledger.CommissionCancelled, cancelled.Status)

	// Idempotence: a second consecutive sweep changes nothing.
	result, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Zero(t, result.Cancelled)
}
