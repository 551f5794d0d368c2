// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	agents       map[ledger.AgentID]ledger.AgentAccount
	reservations []ledger.Reservation
	bookings     map[ledger.BookingID]ledger.Booking
	commissions  map[ledger.CommissionID]ledger.Commission
	payments     map[ledger.PaymentID]ledger.Payment
	audits       []ledger.AuditEntry
	runs         []ledger.ReconcileRun
}

func NewMemory() *Memory {
	return &Memory{
		agents:      make(map[ledger.AgentID]ledger.AgentAccount),
		bookings:    make(map[ledger.BookingID]ledger.Booking),
		commissions: make(map[ledger.CommissionID]ledger.Commission),
		payments:    make(map[ledger.PaymentID]ledger.Payment),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

// =============================================================================
// AGENTS
// =============================================================================

func (m *Memory) CreateAgent(_ context.Context, agent ledger.AgentAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAgentLocked(agent)
}

func (m *Memory) createAgentLocked(agent ledger.AgentAccount) error {
	if agent.CreditLimit.Currency == "" {
		agent.CreditLimit.Currency = ledger.DefaultCurrency
	}
	agent.CreditUsed = agent.CreditLimit.Zero()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	m.agents[agent.ID] = agent
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id ledger.AgentID) (*ledger.AgentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAgentLocked(id)
}

func (m *Memory) getAgentLocked(id ledger.AgentID) (*ledger.AgentAccount, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]ledger.AgentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAgentsLocked()
}

func (m *Memory) listAgentsLocked() ([]ledger.AgentAccount, error) {
	out := make([]ledger.AgentAccount, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCreditLimit(_ context.Context, id ledger.AgentID, limit ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCreditLimitLocked(id, limit)
}

func (m *Memory) setCreditLimitLocked(id ledger.AgentID, limit ledger.Money) error {
	a, ok := m.agents[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "agent", ID: string(id)}
	}
	// The new limit must cover current usage, otherwise a committed state
	// would hold credit_used above credit_limit.
	if a.CreditUsed.GreaterThan(limit) {
		return &ledger.InvalidStateError{
			Entity: "agent", ID: string(id),
			From: "credit_used " + a.CreditUsed.String(),
			To:   "credit_limit " + limit.String(),
		}
	}
	a.CreditLimit = limit
	m.agents[id] = a
	return nil
}

func (m *Memory) SetCommissionRate(_ context.Context, id ledger.AgentID, rate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCommissionRateLocked(id, rate)
}

func (m *Memory) setCommissionRateLocked(id ledger.AgentID, rate decimal.Decimal) error {
	a, ok := m.agents[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "agent", ID: string(id)}
	}
	a.CommissionRate = rate
	m.agents[id] = a
	return nil
}

// =============================================================================
// RESERVATIONS - The conditional atomic operations
// =============================================================================

// Reserve performs the check and the increment under one lock hold, which
// is the memory-store equivalent of the guarded single-statement UPDATE in
// the SQLite store. Two concurrent reservations for the same agent are
// fully serialized here.
func (m *Memory) Reserve(_ context.Context, agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveLocked(agentID, bookingID, amount)
}

func (m *Memory) reserveLocked(agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	a, ok := m.agents[agentID]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}
	for _, r := range m.reservations {
		if r.BookingID == bookingID && !r.Released() {
			return nil, ledger.ErrDuplicateReservation
		}
	}

	newUsed := a.CreditUsed.Add(amount)
	if newUsed.GreaterThan(a.CreditLimit) {
		available := a.CreditLimit.Sub(a.CreditUsed)
		if available.IsNegative() {
			available = available.Zero()
		}
		return nil, &ledger.InsufficientCreditError{
			AgentID:   agentID,
			Required:  amount,
			Available: available,
			Shortfall: amount.Sub(available),
		}
	}

	res := ledger.Reservation{
		ID:        ledger.ReservationID(uuid.NewString()),
		AgentID:   agentID,
		BookingID: bookingID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	m.reservations = append(m.reservations, res)
	a.CreditUsed = newUsed
	m.agents[agentID] = a
	return &res, nil
}

func (m *Memory) Release(_ context.Context, bookingID ledger.BookingID, reason string) (*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(bookingID, reason)
}

func (m *Memory) releaseLocked(bookingID ledger.BookingID, reason string) (*ledger.Reservation, error) {
	for i, r := range m.reservations {
		if r.BookingID != bookingID || r.Released() {
			continue
		}
		now := time.Now().UTC()
		m.reservations[i].ReleasedAt = &now
		m.reservations[i].ReleaseReason = reason

		if a, ok := m.agents[r.AgentID]; ok {
			a.CreditUsed = a.CreditUsed.Sub(r.Amount)
			if a.CreditUsed.IsNegative() {
				a.CreditUsed = a.CreditUsed.Zero()
			}
			m.agents[r.AgentID] = a
		}
		released := m.reservations[i]
		return &released, nil
	}
	// Nothing to release: already released or never reserved. No-op.
	return nil, nil
}

func (m *Memory) AdjustReservation(_ context.Context, bookingID ledger.BookingID, newAmount ledger.Money) (*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustReservationLocked(bookingID, newAmount)
}

func (m *Memory) adjustReservationLocked(bookingID ledger.BookingID, newAmount ledger.Money) (*ledger.Reservation, error) {
	if !newAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	for i, r := range m.reservations {
		if r.BookingID != bookingID || r.Released() {
			continue
		}
		a, ok := m.agents[r.AgentID]
		if !ok {
			return nil, &ledger.NotFoundError{Resource: "agent", ID: string(r.AgentID)}
		}
		delta := newAmount.Sub(r.Amount)
		if delta.IsPositive() {
			newUsed := a.CreditUsed.Add(delta)
			if newUsed.GreaterThan(a.CreditLimit) {
				available := a.CreditLimit.Sub(a.CreditUsed).Add(r.Amount)
				if available.IsNegative() {
					available = available.Zero()
				}
				return nil, &ledger.InsufficientCreditError{
					AgentID:   r.AgentID,
					Required:  newAmount,
					Available: available,
					Shortfall: newAmount.Sub(available),
				}
			}
		}
		a.CreditUsed = a.CreditUsed.Add(delta)
		if a.CreditUsed.IsNegative() {
			a.CreditUsed = a.CreditUsed.Zero()
		}
		m.agents[r.AgentID] = a
		m.reservations[i].Amount = newAmount
		adjusted := m.reservations[i]
		return &adjusted, nil
	}
	return nil, &ledger.NotFoundError{Resource: "reservation", ID: string(bookingID)}
}

func (m *Memory) ActiveReservations(_ context.Context, agentID ledger.AgentID) ([]ledger.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeReservationsLocked(agentID)
}

func (m *Memory) activeReservationsLocked(agentID ledger.AgentID) ([]ledger.Reservation, error) {
	var out []ledger.Reservation
	for _, r := range m.reservations {
		if r.AgentID == agentID && !r.Released() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CreditUsed(_ context.Context, agentID ledger.AgentID) (ledger.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creditUsedLocked(agentID)
}

func (m *Memory) creditUsedLocked(agentID ledger.AgentID) (ledger.Money, error) {
	sum := ledger.NewMoney(0)
	for _, r := range m.reservations {
		if r.AgentID == agentID && !r.Released() {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) OverwriteCreditUsed(_ context.Context, agentID ledger.AgentID, used ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overwriteCreditUsedLocked(agentID, used)
}

func (m *Memory) overwriteCreditUsedLocked(agentID ledger.AgentID, used ledger.Money) error {
	a, ok := m.agents[agentID]
	if !ok {
		return &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}
	a.CreditUsed = used
	m.agents[agentID] = a
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (m *Memory) CreateBooking(_ context.Context, b ledger.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBookingLocked(b)
}

func (m *Memory) createBookingLocked(b ledger.Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookingLocked(id)
}

func (m *Memory) getBookingLocked(id ledger.BookingID) (*ledger.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListBookings(_ context.Context) ([]ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookingsLocked(func(ledger.Booking) bool { return true })
}

func (m *Memory) ListBookingsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookingsLocked(func(b ledger.Booking) bool { return b.AgentID == agentID })
}

func (m *Memory) ListBookingsByStatus(_ context.Context, statuses ...ledger.BookingStatus) ([]ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookingsLocked(func(b ledger.Booking) bool {
		for _, s := range statuses {
			if b.Status == s {
				return true
			}
		}
		return false
	})
}

func (m *Memory) listBookingsLocked(keep func(ledger.Booking) bool) ([]ledger.Booking, error) {
	var out []ledger.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateBooking(_ context.Context, b ledger.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBookingLocked(b)
}

func (m *Memory) updateBookingLocked(b ledger.Booking) error {
	stored, ok := m.bookings[b.ID]
	if !ok {
		return &ledger.NotFoundError{Resource: "booking", ID: string(b.ID)}
	}
	if stored.Version != b.Version {
		return ledger.ErrConcurrencyConflict
	}
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	m.bookings[b.ID] = b
	return nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (m *Memory) CreateCommission(_ context.Context, c ledger.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCommissionLocked(c)
}

func (m *Memory) createCommissionLocked(c ledger.Commission) error {
	for _, existing := range m.commissions {
		if existing.BookingID == c.BookingID {
			return ledger.ErrDuplicateCommission
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	m.commissions[c.ID] = c
	return nil
}

func (m *Memory) GetCommission(_ context.Context, id ledger.CommissionID) (*ledger.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCommissionLocked(id)
}

func (m *Memory) getCommissionLocked(id ledger.CommissionID) (*ledger.Commission, error) {
	c, ok := m.commissions[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetCommissionByBooking(_ context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCommissionByBookingLocked(bookingID)
}

func (m *Memory) getCommissionByBookingLocked(bookingID ledger.BookingID) (*ledger.Commission, error) {
	for _, c := range m.commissions {
		if c.BookingID == bookingID {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListCommissionsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCommissionsLocked(func(c ledger.Commission) bool { return c.AgentID == agentID })
}

func (m *Memory) ListCommissionsByStatus(_ context.Context, statuses ...ledger.CommissionStatus) ([]ledger.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCommissionsLocked(func(c ledger.Commission) bool {
		for _, s := range statuses {
			if c.Status == s {
				return true
			}
		}
		return false
	})
}

func (m *Memory) listCommissionsLocked(keep func(ledger.Commission) bool) ([]ledger.Commission, error) {
	var out []ledger.Commission
	for _, c := range m.commissions {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateCommission(_ context.Context, c ledger.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCommissionLocked(c)
}

func (m *Memory) updateCommissionLocked(c ledger.Commission) error {
	if _, ok := m.commissions[c.ID]; !ok {
		return &ledger.NotFoundError{Resource: "commission", ID: string(c.ID)}
	}
	c.UpdatedAt = time.Now().UTC()
	m.commissions[c.ID] = c
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPaymentLocked(p)
}

func (m *Memory) createPaymentLocked(p ledger.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

func (m *Memory) getPaymentLocked(id ledger.PaymentID) (*ledger.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpdatePaymentStatus(_ context.Context, id ledger.PaymentID, status ledger.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePaymentStatusLocked(id, status)
}

func (m *Memory) updatePaymentStatusLocked(id ledger.PaymentID, status ledger.PaymentStatus) error {
	p, ok := m.payments[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "payment", ID: string(id)}
	}
	if p.Status.Final() {
		return ledger.ErrImmutableRecord
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	m.payments[id] = p
	return nil
}

func (m *Memory) ListPaymentsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(func(p ledger.Payment) bool { return p.AgentID == agentID })
}

func (m *Memory) ListPaymentsByBooking(_ context.Context, bookingID ledger.BookingID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(func(p ledger.Payment) bool { return p.BookingID == bookingID })
}

func (m *Memory) listPaymentsLocked(keep func(ledger.Payment) bool) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// AUDIT & RECONCILE RUNS
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	m.audits = append(m.audits, entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, entityID string) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAuditLocked(entityID)
}

func (m *Memory) listAuditLocked(entityID string) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range m.audits {
		if entityID == "" || e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) RecordRun(_ context.Context, run ledger.ReconcileRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordRunLocked(run)
}

func (m *Memory) recordRunLocked(run ledger.ReconcileRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]ledger.ReconcileRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRunsLocked(limit)
}

func (m *Memory) listRunsLocked(limit int) ([]ledger.ReconcileRun, error) {
	out := make([]ledger.ReconcileRun, len(m.runs))
	copy(out, m.runs)
	// Newest first
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback under the single lock
// =============================================================================

// WithTx executes fn while holding the store lock. A snapshot of the full
// state is taken first; if fn fails, the snapshot is restored, so partial
// writes never become visible.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	agents       map[ledger.AgentID]ledger.AgentAccount
	reservations []ledger.Reservation
	bookings     map[ledger.BookingID]ledger.Booking
	commissions  map[ledger.CommissionID]ledger.Commission
	payments     map[ledger.PaymentID]ledger.Payment
	audits       []ledger.AuditEntry
	runs         []ledger.ReconcileRun
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		agents:       make(map[ledger.AgentID]ledger.AgentAccount, len(m.agents)),
		reservations: append([]ledger.Reservation(nil), m.reservations...),
		bookings:     make(map[ledger.BookingID]ledger.Booking, len(m.bookings)),
		commissions:  make(map[ledger.CommissionID]ledger.Commission, len(m.commissions)),
		payments:     make(map[ledger.PaymentID]ledger.Payment, len(m.payments)),
		audits:       append([]ledger.AuditEntry(nil), m.audits...),
		runs:         append([]ledger.ReconcileRun(nil), m.runs...),
	}
	for k, v := range m.agents {
		s.agents[k] = v
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.commissions {
		s.commissions[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.agents = s.agents
	m.reservations = s.reservations
	m.bookings = s.bookings
	m.commissions = s.commissions
	m.payments = s.payments
	m.audits = s.audits
	m.runs = s.runs
}

// memTx is the transactional view handed to WithTx callbacks. The parent
// already holds the lock, so every call goes straight to the locked
// internals.
type memTx struct {
	m *Memory
}

var _ ledger.Store = (*memTx)(nil)

func (t *memTx) CreateAgent(_ context.Context, a ledger.AgentAccount) error {
	return t.m.createAgentLocked(a)
}
func (t *memTx) GetAgent(_ context.Context, id ledger.AgentID) (*ledger.AgentAccount, error) {
	return t.m.getAgentLocked(id)
}
func (t *memTx) ListAgents(_ context.Context) ([]ledger.AgentAccount, error) {
	return t.m.listAgentsLocked()
}
func (t *memTx) SetCreditLimit(_ context.Context, id ledger.AgentID, limit ledger.Money) error {
	return t.m.setCreditLimitLocked(id, limit)
}
func (t *memTx) SetCommissionRate(_ context.Context, id ledger.AgentID, rate decimal.Decimal) error {
	return t.m.setCommissionRateLocked(id, rate)
}
func (t *memTx) Reserve(_ context.Context, agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	return t.m.reserveLocked(agentID, bookingID, amount)
}
func (t *memTx) Release(_ context.Context, bookingID ledger.BookingID, reason string) (*ledger.Reservation, error) {
	return t.m.releaseLocked(bookingID, reason)
}
func (t *memTx) AdjustReservation(_ context.Context, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	return t.m.adjustReservationLocked(bookingID, amount)
}
func (t *memTx) ActiveReservations(_ context.Context, agentID ledger.AgentID) ([]ledger.Reservation, error) {
	return t.m.activeReservationsLocked(agentID)
}
func (t *memTx) CreditUsed(_ context.Context, agentID ledger.AgentID) (ledger.Money, error) {
	return t.m.creditUsedLocked(agentID)
}
func (t *memTx) OverwriteCreditUsed(_ context.Context, agentID ledger.AgentID, used ledger.Money) error {
	return t.m.overwriteCreditUsedLocked(agentID, used)
}
func (t *memTx) CreateBooking(_ context.Context, b ledger.Booking) error {
	return t.m.createBookingLocked(b)
}
func (t *memTx) GetBooking(_ context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	return t.m.getBookingLocked(id)
}
func (t *memTx) ListBookings(_ context.Context) ([]ledger.Booking, error) {
	return t.m.listBookingsLocked(func(ledger.Booking) bool { return true })
}
func (t *memTx) ListBookingsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Booking, error) {
	return t.m.listBookingsLocked(func(b ledger.Booking) bool { return b.AgentID == agentID })
}
func (t *memTx) ListBookingsByStatus(_ context.Context, statuses ...ledger.BookingStatus) ([]ledger.Booking, error) {
	return t.m.listBookingsLocked(func(b ledger.Booking) bool {
		for _, s := range statuses {
			if b.Status == s {
				return true
			}
		}
		return false
	})
}
func (t *memTx) UpdateBooking(_ context.Context, b ledger.Booking) error {
	return t.m.updateBookingLocked(b)
}
func (t *memTx) CreateCommission(_ context.Context, c ledger.Commission) error {
	return t.m.createCommissionLocked(c)
}
func (t *memTx) GetCommission(_ context.Context, id ledger.CommissionID) (*ledger.Commission, error) {
	return t.m.getCommissionLocked(id)
}
func (t *memTx) GetCommissionByBooking(_ context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	return t.m.getCommissionByBookingLocked(bookingID)
}
func (t *memTx) ListCommissionsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Commission, error) {
	return t.m.listCommissionsLocked(func(c ledger.Commission) bool { return c.AgentID == agentID })
}
func (t *memTx) ListCommissionsByStatus(_ context.Context, statuses ...ledger.CommissionStatus) ([]ledger.Commission, error) {
	return t.m.listCommissionsLocked(func(c ledger.Commission) bool {
		for _, s := range statuses {
			if c.Status == s {
				return true
			}
		}
		return false
	})
}
func (t *memTx) UpdateCommission(_ context.Context, c ledger.Commission) error {
	return t.m.updateCommissionLocked(c)
}
func (t *memTx) CreatePayment(_ context.Context, p ledger.Payment) error {
	return t.m.createPaymentLocked(p)
}
func (t *memTx) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return t.m.getPaymentLocked(id)
}
func (t *memTx) UpdatePaymentStatus(_ context.Context, id ledger.PaymentID, status ledger.PaymentStatus) error {
	return t.m.updatePaymentStatusLocked(id, status)
}
func (t *memTx) ListPaymentsByAgent(_ context.Context, agentID ledger.AgentID) ([]ledger.Payment, error) {
	return t.m.listPaymentsLocked(func(p ledger.Payment) bool { return p.AgentID == agentID })
}
func (t *memTx) ListPaymentsByBooking(_ context.Context, bookingID ledger.BookingID) ([]ledger.Payment, error) {
	return t.m.listPaymentsLocked(func(p ledger.Payment) bool { return p.BookingID == bookingID })
}
func (t *memTx) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	return t.m.appendAuditLocked(e)
}
func (t *memTx) ListAudit(_ context.Context, entityID string) ([]ledger.AuditEntry, error) {
	return t.m.listAuditLocked(entityID)
}
func (t *memTx) RecordRun(_ context.Context, run ledger.ReconcileRun) error {
	return t.m.recordRunLocked(run)
}
func (t *memTx) ListRuns(_ context.Context, limit int) ([]ledger.ReconcileRun, error) {
	return t.m.listRunsLocked(limit)
}
