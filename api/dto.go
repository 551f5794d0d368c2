/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes for the wire. Monetary values are serialized as fixed
  two-decimal strings; timestamps as RFC3339. Domain types never cross
  the HTTP boundary directly.

SEE ALSO:
  - handlers.go: where these are populated
*/
package api

import (
	"time"

	"github.com/voyago/agency-ledger/credit"
	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(m ledger.Money) string { return m.Value.StringFixed(2) }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func stampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := stamp(*t)
	return &s
}

// =============================================================================
// AGENTS
// =============================================================================

type AgentDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	CreditLimit    string `json:"credit_limit"`
	CreditUsed     string `json:"credit_used"`
	CommissionRate string `json:"commission_rate"`
	CreatedAt      string `json:"created_at"`
}

func toAgentDTO(a ledger.AgentAccount) AgentDTO {
	return AgentDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Email:          a.Email,
		CreditLimit:    money(a.CreditLimit),
		CreditUsed:     money(a.CreditUsed),
		CommissionRate: a.CommissionRate.String(),
		CreatedAt:      stamp(a.CreatedAt),
	}
}

type CreditStatusDTO struct {
	AgentID         string `json:"agent_id"`
	CreditLimit     string `json:"credit_limit"`
	CreditUsed      string `json:"credit_used"`
	AvailableCredit string `json:"available_credit"`
	Utilization     string `json:"utilization_pct"`
	Health          string `json:"health"`
}

func toCreditStatusDTO(s *credit.Status) CreditStatusDTO {
	return CreditStatusDTO{
		AgentID:         string(s.AgentID),
		CreditLimit:     money(s.CreditLimit),
		CreditUsed:      money(s.CreditUsed),
		AvailableCredit: money(s.AvailableCredit),
		Utilization:     s.Utilization.String(),
		Health:          string(s.Health),
	}
}

type SetCreditLimitRequest struct {
	CreditLimit float64 `json:"credit_limit"`
}

type SetCommissionRateRequest struct {
	CommissionRate float64 `json:"commission_rate"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id,omitempty"`
	TotalAmount string `json:"total_amount"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toBookingDTO(b ledger.Booking) BookingDTO {
	return BookingDTO{
		ID:          string(b.ID),
		AgentID:     string(b.AgentID),
		TotalAmount: money(b.TotalAmount),
		Status:      string(b.Status),
		StartDate:   b.StartDate.Format("2006-01-02"),
		EndDate:     b.EndDate.Format("2006-01-02"),
		Version:     b.Version,
		CreatedAt:   stamp(b.CreatedAt),
		UpdatedAt:   stamp(b.UpdatedAt),
	}
}

type CreateBookingRequest struct {
	AgentID     string  `json:"agent_id,omitempty"`
	TotalAmount float64 `json:"total_amount"`
	StartDate   string  `json:"start_date"` // 2006-01-02
	EndDate     string  `json:"end_date"`
}

type AdjustAmountRequest struct {
	TotalAmount float64 `json:"total_amount"`
	Actor       string  `json:"actor,omitempty"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

type CommissionDTO struct {
	ID            string  `json:"id"`
	BookingID     string  `json:"booking_id"`
	AgentID       string  `json:"agent_id"`
	BookingAmount string  `json:"booking_amount"`
	Rate          string  `json:"rate"`
	Amount        string  `json:"amount"`
	Status        string  `json:"status"`
	DueDate       string  `json:"due_date"`
	ApprovedBy    string  `json:"approved_by,omitempty"`
	ApprovedAt    *string `json:"approved_at,omitempty"`
	PaidAt        *string `json:"paid_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toCommissionDTO(c ledger.Commission) CommissionDTO {
	return CommissionDTO{
		ID:            string(c.ID),
		BookingID:     string(c.BookingID),
		AgentID:       string(c.AgentID),
		BookingAmount: money(c.BookingAmount),
		Rate:          c.Rate.String(),
		Amount:        money(c.Amount),
		Status:        string(c.Status),
		DueDate:       c.DueDate.Format("2006-01-02"),
		ApprovedBy:    c.ApprovedBy,
		ApprovedAt:    stampPtr(c.ApprovedAt),
		PaidAt:        stampPtr(c.PaidAt),
		CancelledAt:   stampPtr(c.CancelledAt),
		CreatedAt:     stamp(c.CreatedAt),
	}
}

type ApproveCommissionRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type PayCommissionRequest struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type CommissionSummaryDTO struct {
	AgentID     string                    `json:"agent_id"`
	Outstanding string                    `json:"outstanding"`
	Paid        string                    `json:"paid"`
	ByStatus    map[string]StatusTotalDTO `json:"by_status"`
}

type StatusTotalDTO struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID           string `json:"id"`
	AgentID      string `json:"agent_id"`
	BookingID    string `json:"booking_id,omitempty"`
	CommissionID string `json:"commission_id,omitempty"`
	Amount       string `json:"amount"`
	Direction    string `json:"direction"`
	Status       string `json:"status"`
	Method       string `json:"method,omitempty"`
	Reference    string `json:"reference,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           string(p.ID),
		AgentID:      string(p.AgentID),
		BookingID:    string(p.BookingID),
		CommissionID: string(p.CommissionID),
		Amount:       money(p.Amount),
		Direction:    string(p.Direction),
		Status:       string(p.Status),
		Method:       p.Method,
		Reference:    p.Reference,
		CreatedAt:    stamp(p.CreatedAt),
	}
}

type RecordPaymentRequest struct {
	AgentID   string  `json:"agent_id,omitempty"`
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference,omitempty"`
}

type PaymentSummaryDTO struct {
	AgentID       string                    `json:"agent_id"`
	TotalIncoming string                    `json:"total_incoming"`
	TotalOutgoing string                    `json:"total_outgoing"`
	Outstanding   string                    `json:"outstanding_balance"`
	ByStatus      map[string]StatusTotalDTO `json:"by_status"`
}

// =============================================================================
// AUDIT & RECONCILIATION
// =============================================================================

type AuditEntryDTO struct {
	ID       string            `json:"id"`
	At       string            `json:"at"`
	ActorID  string            `json:"actor_id,omitempty"`
	Action   string            `json:"action"`
	EntityID string            `json:"entity_id,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:       e.ID,
		At:       stamp(e.At),
		ActorID:  e.ActorID,
		Action:   string(e.Action),
		EntityID: e.EntityID,
		Payload:  e.Payload,
	}
}

type ReconcileRunDTO struct {
	ID                   string `json:"id"`
	StartedAt            string `json:"started_at"`
	FinishedAt           string `json:"finished_at"`
	AgentsChecked        int    `json:"agents_checked"`
	CreditCorrections    int    `json:"credit_corrections"`
	CommissionsCreated   int    `json:"commissions_created"`
	CommissionsCancelled int    `json:"commissions_cancelled"`
	ReservationsRepaired int    `json:"reservations_repaired"`
	Notes                string `json:"notes,omitempty"`
}

func toReconcileRunDTO(r ledger.ReconcileRun) ReconcileRunDTO {
	return ReconcileRunDTO{
		ID:                   string(r.ID),
		StartedAt:            stamp(r.StartedAt),
		FinishedAt:           stamp(r.FinishedAt),
		AgentsChecked:        r.AgentsChecked,
		CreditCorrections:    r.CreditCorrections,
		CommissionsCreated:   r.CommissionsCreated,
		CommissionsCancelled: r.CommissionsCancelled,
		ReservationsRepaired: r.ReservationsRepaired,
		Notes:                r.Notes,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ID string `json:"id"`
}
