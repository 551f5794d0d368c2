package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/agency-ledger/commission"
	"github.com/voyago/agency-ledger/ledger"
	"github.com/voyago/agency-ledger/ledger/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	return NewLedger(m), m
}

func seedAgent(t *testing.T, m *store.Memory, id ledger.AgentID) {
	t.Helper()
	require.NoError(t, m.CreateAgent(context.Background(), ledger.AgentAccount{
		ID:             id,
		Name:           "Agent " + string(id),
		CreditLimit:    ledger.NewMoney(100000),
		CommissionRate: decimal.NewFromInt(10),
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

func TestRecordIncoming(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1")
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingPending)

	p, err := l.RecordIncoming(ctx, "agt-1", "bk-1", ledger.NewMoney(400), "card", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentIncoming, p.Direction)
	assert.Equal(t, ledger.PaymentCompleted, p.Status)

	byBooking, err := m.ListPaymentsByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, byBooking, 1)
}

func TestRecordIncomingValidation(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1")

	_, err := l.RecordIncoming(ctx, "agt-1", "ghost", ledger.NewMoney(400), "card", "")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingPending)
	_, err = l.RecordIncoming(ctx, "agt-1", "bk-1", ledger.NewMoney(0), "card", "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidAmount))
}

func TestRecordPayout(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1")
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)

	cl := commission.NewLedger(m)
	c, err := cl.CreateForBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, c)

	p, err := l.RecordPayout(ctx, c, "bank_transfer", "tx-9")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentOutgoing, p.Direction)
	assert.Equal(t, c.ID, p.CommissionID)
	assert.True(t, p.Amount.Equal(c.Amount))
}

func TestOutstandingBalance(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1")
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingCompleted)
	seedBooking(t, m, "bk-2", "agt-1", 2000, ledger.BookingCompleted)
	seedBooking(t, m, "bk-3", "agt-1", 3000, ledger.BookingCompleted)

	cl := commission.NewLedger(m)
	c1, err := cl.CreateForBooking(ctx, "bk-1") // pending: 100
	require.NoError(t, err)
	c2, err := cl.CreateForBooking(ctx, "bk-2") // approved: 200
	require.NoError(t, err)
	c3, err := cl.CreateForBooking(ctx, "bk-3") // paid: excluded
	require.NoError(t, err)
	_ = c1

	_, err = cl.Approve(ctx, c2.ID, "admin")
	require.NoError(t, err)
	_, err = cl.Approve(ctx, c3.ID, "admin")
	require.NoError(t, err)
	_, err = cl.MarkAsPaid(ctx, c3.ID, "bank_transfer", "tx-1")
	require.NoError(t, err)

	balance, err := l.OutstandingBalance(ctx, "agt-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.NewMoney(300)), "got %s", balance)
}

func TestOutstandingBalanceUnknownAgent(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.OutstandingBalance(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestSummaryForAgent(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger(t)
	seedAgent(t, m, "agt-1")
	seedBooking(t, m, "bk-1", "agt-1", 1000, ledger.BookingPending)

	_, err := l.RecordIncoming(ctx, "agt-1", "bk-1", ledger.NewMoney(600), "card", "")
	require.NoError(t, err)
	_, err = l.RecordIncoming(ctx, "agt-1", "bk-1", ledger.NewMoney(400), "card", "")
	require.NoError(t, err)

	// A failed payment must not count toward the incoming total.
	require.NoError(t, m.CreatePayment(ctx, ledger.Payment{
		ID:        "pay-failed",
		AgentID:   "agt-1",
		BookingID: "bk-1",
		Amount:    ledger.NewMoney(999),
		Direction: ledger.PaymentIncoming,
		Status:    ledger.PaymentFailed,
	}))

	s, err := l.SummaryForAgent(ctx, "agt-1")
	require.NoError(t, err)
	assert.True(t, s.TotalIncoming.Equal(ledger.NewMoney(1000)), "got %s", s.TotalIncoming)
	assert.True(t, s.TotalOutgoing.IsZero())
	assert.Equal(t, 2, s.ByStatus[ledger.PaymentCompleted].Count)
	assert.Equal(t, 1, s.ByStatus[ledger.PaymentFailed].Count)
}
