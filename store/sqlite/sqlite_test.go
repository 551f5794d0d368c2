package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAgent(t *testing.T, s *Store, id ledger.AgentID, limit float64) {
	t.Helper()
	err := s.CreateAgent(context.Background(), ledger.AgentAccount{
		ID:             id,
		Name:           "Agent " + string(id),
		Email:          string(id) + "@agency.test",
		CreditLimit:    ledger.NewMoney(limit),
		CommissionRate: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 2500.50)

	agent, err := s.GetAgent(ctx, "agt-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil {
		t.Fatal("expected agent")
	}
	if !agent.CreditLimit.Equal(ledger.NewMoney(2500.50)) {
		t.Errorf("expected limit 2500.50, got %s", agent.CreditLimit)
	}
	if !agent.CreditUsed.IsZero() {
		t.Errorf("expected zero usage, got %s", agent.CreditUsed)
	}
	if agent.CommissionRate.String() != "10" {
		t.Errorf("expected rate 10, got %s", agent.CommissionRate)
	}

	missing, err := s.GetAgent(ctx, "ghost")
	if err != nil {
		t.Fatalf("get missing agent: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing agent")
	}
}

func TestReserveEnforcesLimit(t *testing.T) {
	ctx := context.Background()

	// GIVEN an agent with a 1000 limit
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 1000)

	// WHEN a 600 hold fits and a further 500 does not
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(600)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := s.Reserve(ctx, "agt-1", "bk-2", ledger.NewMoney(500))

	// THEN the guarded UPDATE rejects the second hold without mutation
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	var ice *ledger.InsufficientCreditError
	if !errors.As(err, &ice) {
		t.Fatalf("expected structured error, got %T", err)
	}
	if !ice.Available.Equal(ledger.NewMoney(400)) {
		t.Errorf("expected available 400, got %s", ice.Available)
	}

	agent, _ := s.GetAgent(ctx, "agt-1")
	if !agent.CreditUsed.Equal(ledger.NewMoney(600)) {
		t.Errorf("expected credit used 600, got %s", agent.CreditUsed)
	}
	used, err := s.CreditUsed(ctx, "agt-1")
	if err != nil {
		t.Fatalf("credit used: %v", err)
	}
	if !used.Equal(ledger.NewMoney(600)) {
		t.Errorf("expected authoritative used 600, got %s", used)
	}
}

func TestReserveUnknownAgent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Reserve(context.Background(), "ghost", "bk-1", ledger.NewMoney(100))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReserveDuplicateBookingRollsBack(t *testing.T) {
	ctx := context.Background()

	// GIVEN a live hold for a booking
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 1000)
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(100)); err != nil {
		t.Fatalf("setup reserve: %v", err)
	}

	// WHEN reserving the same booking again
	_, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(100))

	// THEN the partial unique index rejects it AND the counter bump from
	// the same transaction is rolled back with it
	if !errors.Is(err, ledger.ErrDuplicateReservation) {
		t.Fatalf("expected duplicate reservation, got %v", err)
	}
	agent, _ := s.GetAgent(ctx, "agt-1")
	if !agent.CreditUsed.Equal(ledger.NewMoney(100)) {
		t.Errorf("expected credit used 100, got %s", agent.CreditUsed)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 1000)
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(400)); err != nil {
		t.Fatalf("setup reserve: %v", err)
	}

	first, err := s.Release(ctx, "bk-1", "booking cancelled")
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	if first == nil || !first.Released() {
		t.Fatal("first release should flip the reservation")
	}
	if first.ReleaseReason != "booking cancelled" {
		t.Errorf("expected reason recorded, got %q", first.ReleaseReason)
	}

	second, err := s.Release(ctx, "bk-1", "booking cancelled")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if second != nil {
		t.Error("second release should be a nil no-op")
	}

	agent, _ := s.GetAgent(ctx, "agt-1")
	if !agent.CreditUsed.IsZero() {
		t.Errorf("expected credit used 0, got %s", agent.CreditUsed)
	}

	// A released booking can be held again.
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(250)); err != nil {
		t.Fatalf("re-reserve after release: %v", err)
	}
}

func TestAdjustReservation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 1000)
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(400)); err != nil {
		t.Fatalf("setup reserve: %v", err)
	}

	r, err := s.AdjustReservation(ctx, "bk-1", ledger.NewMoney(700))
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if !r.Amount.Equal(ledger.NewMoney(700)) {
		t.Errorf("expected amount 700, got %s", r.Amount)
	}
	agent, _ := s.GetAgent(ctx, "agt-1")
	if !agent.CreditUsed.Equal(ledger.NewMoney(700)) {
		t.Errorf("expected credit used 700, got %s", agent.CreditUsed)
	}

	// Growing past the limit is rejected without mutation.
	if _, err := s.AdjustReservation(ctx, "bk-1", ledger.NewMoney(1100)); !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	agent, _ = s.GetAgent(ctx, "agt-1")
	if !agent.CreditUsed.Equal(ledger.NewMoney(700)) {
		t.Errorf("rejected adjust must not mutate, got %s", agent.CreditUsed)
	}
}

func TestUpdateBookingVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := ledger.Booking{
		ID:          "bk-1",
		AgentID:     "agt-1",
		TotalAmount: ledger.NewMoney(500),
		Status:      ledger.BookingPending,
		StartDate:   time.Now(),
		EndDate:     time.Now().Add(24 * time.Hour),
	}
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("create booking: %v", err)
	}

	first := b
	first.Status = ledger.BookingConfirmed
	if err := s.UpdateBooking(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	stale := b
	stale.Status = ledger.BookingCancelled
	if err := s.UpdateBooking(ctx, stale); !errors.Is(err, ledger.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	got, err := s.GetBooking(ctx, "bk-1")
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if got.Status != ledger.BookingConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	// Unknown booking gets not-found, not a conflict.
	ghost := b
	ghost.ID = "ghost"
	if err := s.UpdateBooking(ctx, ghost); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommissionUniquePerBooking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := ledger.Commission{
		ID:            "cm-1",
		BookingID:     "bk-1",
		AgentID:       "agt-1",
		BookingAmount: ledger.NewMoney(1000),
		Rate:          decimal.NewFromInt(10),
		Amount:        ledger.NewMoney(100),
		Status:        ledger.CommissionPending,
		DueDate:       time.Now().Add(30 * 24 * time.Hour),
	}
	if err := s.CreateCommission(ctx, c); err != nil {
		t.Fatalf("create commission: %v", err)
	}

	dup := c
	dup.ID = "cm-2"
	if err := s.CreateCommission(ctx, dup); !errors.Is(err, ledger.ErrDuplicateCommission) {
		t.Fatalf("expected duplicate commission, got %v", err)
	}

	got, err := s.GetCommissionByBooking(ctx, "bk-1")
	if err != nil {
		t.Fatalf("get by booking: %v", err)
	}
	if got == nil || got.ID != "cm-1" {
		t.Fatalf("expected cm-1, got %+v", got)
	}
	if got.Rate.String() != "10" {
		t.Errorf("expected rate 10, got %s", got.Rate)
	}
}

func TestCommissionTimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	c := ledger.Commission{
		ID:            "cm-1",
		BookingID:     "bk-1",
		AgentID:       "agt-1",
		BookingAmount: ledger.NewMoney(1000),
		Rate:          decimal.NewFromInt(10),
		Amount:        ledger.NewMoney(100),
		Status:        ledger.CommissionApproved,
		DueDate:       now.Add(30 * 24 * time.Hour),
		ApprovedBy:    "admin",
		ApprovedAt:    &now,
	}
	if err := s.CreateCommission(ctx, c); err != nil {
		t.Fatalf("create commission: %v", err)
	}
	if err := s.UpdateCommission(ctx, c); err != nil {
		t.Fatalf("update commission: %v", err)
	}

	got, err := s.GetCommission(ctx, "cm-1")
	if err != nil {
		t.Fatalf("get commission: %v", err)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(now) {
		t.Errorf("expected approved at %s, got %v", now, got.ApprovedAt)
	}
	if got.PaidAt != nil || got.CancelledAt != nil {
		t.Error("unset timestamps must stay nil")
	}
	if got.ApprovedBy != "admin" {
		t.Errorf("expected approver, got %q", got.ApprovedBy)
	}
}

func TestPaymentFinalStatusIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := ledger.Payment{
		ID:        "pay-1",
		AgentID:   "agt-1",
		BookingID: "bk-1",
		Amount:    ledger.NewMoney(100),
		Direction: ledger.PaymentIncoming,
		Status:    ledger.PaymentPending,
	}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	// pending -> completed is allowed.
	if err := s.UpdatePaymentStatus(ctx, "pay-1", ledger.PaymentCompleted); err != nil {
		t.Fatalf("advance status: %v", err)
	}
	// completed -> anything is not.
	if err := s.UpdatePaymentStatus(ctx, "pay-1", ledger.PaymentFailed); !errors.Is(err, ledger.ErrImmutableRecord) {
		t.Fatalf("expected immutable record, got %v", err)
	}
	if err := s.UpdatePaymentStatus(ctx, "ghost", ledger.PaymentCompleted); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWithTxRollsBackAllWrites(t *testing.T) {
	ctx := context.Background()

	// GIVEN an agent without enough credit for the booking
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 100)

	// WHEN booking creation and reservation run in one transaction
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.CreateBooking(ctx, ledger.Booking{
			ID:          "bk-1",
			AgentID:     "agt-1",
			TotalAmount: ledger.NewMoney(500),
			Status:      ledger.BookingPending,
			StartDate:   time.Now(),
			EndDate:     time.Now().Add(time.Hour),
		}); err != nil {
			return err
		}
		_, err := tx.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(500))
		return err
	})

	// THEN the reservation failure rolls the booking back too
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	b, err := s.GetBooking(ctx, "bk-1")
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b != nil {
		t.Error("booking should have been rolled back")
	}
}

func TestAuditAndRunPersistence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.AppendAudit(ctx, ledger.AuditEntry{
		ActorID:  "system",
		Action:   ledger.AuditBookingCreated,
		EntityID: "bk-1",
		Payload:  map[string]string{"amount": "500.00 USD"},
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
	entries, err := s.ListAudit(ctx, "bk-1")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Payload["amount"] != "500.00 USD" {
		t.Errorf("payload lost in round trip: %+v", entries[0].Payload)
	}

	run := ledger.ReconcileRun{
		ID:                "run-1",
		StartedAt:         time.Now().Add(-time.Minute),
		FinishedAt:        time.Now(),
		AgentsChecked:     3,
		CreditCorrections: 1,
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("record run: %v", err)
	}
	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].AgentsChecked != 3 {
		t.Fatalf("run lost in round trip: %+v", runs)
	}
}

func TestSetCreditLimitCannotUndercutUsage(t *testing.T) {
	ctx := context.Background()

	// GIVEN an agent holding 7000 of a 10000 limit
	s := newTestStore(t)
	seedAgent(t, s, "agt-1", 10000)
	if _, err := s.Reserve(ctx, "agt-1", "bk-1", ledger.NewMoney(7000)); err != nil {
		t.Fatalf("setup reserve: %v", err)
	}

	// WHEN lowering the limit below the open exposure
	err := s.SetCreditLimit(ctx, "agt-1", ledger.NewMoney(5000))

	// THEN the change is rejected and the committed state is unchanged
	if !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	agent, err := s.GetAgent(ctx, "agt-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !agent.CreditLimit.Equal(ledger.NewMoney(10000)) {
		t.Errorf("expected limit 10000, got %s", agent.CreditLimit)
	}

	// AND an unknown agent is still reported as missing
	err = s.SetCreditLimit(ctx, "ghost", ledger.NewMoney(5000))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// AND lowering down to exactly the usage is allowed
	if err := s.SetCreditLimit(ctx, "agt-1", ledger.NewMoney(7000)); err != nil {
		t.Fatalf("set limit to usage: %v", err)
	}
	agent, _ = s.GetAgent(ctx, "agt-1")
	if !agent.CreditLimit.Equal(ledger.NewMoney(7000)) {
		t.Errorf("expected limit 7000, got %s", agent.CreditLimit)
	}
}
