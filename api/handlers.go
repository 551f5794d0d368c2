/*
handlers.go - HTTP API handlers for the agency ledger

PURPOSE:
  Exposes the credit, commission, booking, and payment ledgers via REST
  API. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Agents:
    GET    /api/agents                      List all agents
    POST   /api/agents                      Create agent from JSON profile
    GET    /api/agents/{id}                 Get agent details
    GET    /api/agents/{id}/credit          Credit status (limit/used/health)
    PUT    /api/agents/{id}/credit-limit    Change credit limit
    PUT    /api/agents/{id}/commission-rate Change commission rate
    GET    /api/agents/{id}/commissions     Commission summary + records
    GET    /api/agents/{id}/payments        Payment summary + outstanding

  Bookings:
    GET    /api/bookings                    List (filter: status, agent_id)
    POST   /api/bookings                    Create (reserves credit)
    GET    /api/bookings/{id}               Get booking
    POST   /api/bookings/{id}/confirm       pending -> confirmed
    POST   /api/bookings/{id}/cancel        -> cancelled
    POST   /api/bookings/{id}/complete      confirmed -> completed
    PUT    /api/bookings/{id}/amount        Financial adjustment
    GET    /api/bookings/{id}/audit         Audit trail

  Commissions:
    GET    /api/commissions                 List (filter: status)
    POST   /api/commissions/{id}/approve    pending -> approved
    POST   /api/commissions/{id}/pay        approved -> paid (+ payout record)

  Payments:
    POST   /api/payments                    Record incoming customer payment
    GET    /api/payments/{id}               Get payment

  Admin:
    POST   /api/admin/reconcile             Trigger a reconciliation sweep
    GET    /api/admin/reconcile/runs        Past sweep outcomes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Insufficient credit, invalid state transition, duplicates
  - 503: Optimistic-concurrency retry budget exhausted (retryable)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/booking"
	"github.com/voyago/agency-ledger/commission"
	"github.com/voyago/agency-ledger/credit"
	"github.com/voyago/agency-ledger/factory"
	"github.com/voyago/agency-ledger/ledger"
	"github.com/voyago/agency-ledger/payment"
	"github.com/voyago/agency-ledger/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        ledger.TxStore
	Machine      *booking.StateMachine
	Credit       *credit.Ledger
	Commissions  *commission.Ledger
	Payments     *payment.Ledger
	Sweeper      *reconcile.Sweeper
	AgentFactory *factory.AgentFactory

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store ledger.TxStore) *Handler {
	return &Handler{
		Store:        store,
		Machine:      booking.NewStateMachine(store),
		Credit:       credit.NewLedger(store),
		Commissions:  commission.NewLedger(store),
		Payments:     payment.NewLedger(store),
		Sweeper:      reconcile.NewSweeper(store),
		AgentFactory: factory.NewAgentFactory(),
	}
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// ListAgents returns all agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list agents", err)
		return
	}

	dtos := make([]AgentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = toAgentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAgent creates an agent from a JSON profile.
// POST /api/agents
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	account, err := h.AgentFactory.ParseAgent(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid agent profile", err)
		return
	}

	existing, err := h.Store.GetAgent(r.Context(), account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check agent", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Agent already exists", nil)
		return
	}

	if err := h.Store.CreateAgent(r.Context(), *account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create agent", err)
		return
	}

	created, err := h.Store.GetAgent(r.Context(), account.ID)
	if err != nil || created == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load created agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentDTO(*created))
}

// GetAgent returns a single agent.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get agent", err)
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(*agent))
}

// GetCreditStatus returns the agent's credit position.
// GET /api/agents/{id}/credit
func (h *Handler) GetCreditStatus(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	status, err := h.Credit.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get credit status", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditStatusDTO(status))
}

// SetCreditLimit changes an agent's credit limit.
// PUT /api/agents/{id}/credit-limit
func (h *Handler) SetCreditLimit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	var req SetCreditLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CreditLimit < 0 {
		writeError(w, http.StatusBadRequest, "credit_limit must not be negative", nil)
		return
	}

	limit := ledger.NewMoney(req.CreditLimit)
	if err := h.Store.SetCreditLimit(r.Context(), id, limit); err != nil {
		writeDomainError(w, "Failed to set credit limit", err)
		return
	}
	h.appendAudit(r, ledger.AuditCreditLimitChanged, string(id), map[string]string{
		"credit_limit": limit.String(),
	})

	status, err := h.Credit.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get credit status", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditStatusDTO(status))
}

// SetCommissionRate changes an agent's commission rate.
// PUT /api/agents/{id}/commission-rate
func (h *Handler) SetCommissionRate(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	var req SetCommissionRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate := decimal.NewFromFloat(req.CommissionRate)
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		writeError(w, http.StatusBadRequest, "commission_rate must be a percentage 0-100", nil)
		return
	}

	if err := h.Store.SetCommissionRate(r.Context(), id, rate); err != nil {
		writeDomainError(w, "Failed to set commission rate", err)
		return
	}

	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil || agent == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load agent", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentDTO(*agent))
}

// GetAgentCommissions returns the agent's commission summary and records.
// GET /api/agents/{id}/commissions
func (h *Handler) GetAgentCommissions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	summary, err := h.Commissions.SummaryForAgent(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get commission summary", err)
		return
	}
	records, err := h.Store.ListCommissionsByAgent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	dto := CommissionSummaryDTO{
		AgentID:     string(summary.AgentID),
		Outstanding: money(summary.Outstanding),
		Paid:        money(summary.Paid),
		ByStatus:    make(map[string]StatusTotalDTO),
	}
	for status, st := range summary.ByStatus {
		dto.ByStatus[string(status)] = StatusTotalDTO{Count: st.Count, Total: money(st.Total)}
	}

	recordDTOs := make([]CommissionDTO, len(records))
	for i, c := range records {
		recordDTOs[i] = toCommissionDTO(c)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     dto,
		"commissions": recordDTOs,
	})
}

// GetAgentPayments returns the agent's payment summary.
// GET /api/agents/{id}/payments
func (h *Handler) GetAgentPayments(w http.ResponseWriter, r *http.Request) {
	id := ledger.AgentID(chi.URLParam(r, "id"))

	summary, err := h.Payments.SummaryForAgent(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get payment summary", err)
		return
	}
	outstanding, err := h.Payments.OutstandingBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get outstanding balance", err)
		return
	}

	dto := PaymentSummaryDTO{
		AgentID:       string(summary.AgentID),
		TotalIncoming: money(summary.TotalIncoming),
		TotalOutgoing: money(summary.TotalOutgoing),
		Outstanding:   money(outstanding),
		ByStatus:      make(map[string]StatusTotalDTO),
	}
	for status, st := range summary.ByStatus {
		dto.ByStatus[string(status)] = StatusTotalDTO{Count: st.Count, Total: money(st.Total)}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns bookings, optionally filtered by status or agent.
// GET /api/bookings?status=pending&agent_id=agt-1
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		bookings []ledger.Booking
		err      error
	)
	switch {
	case r.URL.Query().Get("agent_id") != "":
		bookings, err = h.Store.ListBookingsByAgent(ctx, ledger.AgentID(r.URL.Query().Get("agent_id")))
	case r.URL.Query().Get("status") != "":
		bookings, err = h.Store.ListBookingsByStatus(ctx, ledger.BookingStatus(r.URL.Query().Get("status")))
	default:
		bookings, err = h.Store.ListBookings(ctx)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bookings", err)
		return
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBooking creates a pending booking, reserving agent credit.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD", err)
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date, expected YYYY-MM-DD", err)
		return
	}

	b, err := h.Machine.Create(r.Context(), booking.CreateInput{
		AgentID:     ledger.AgentID(req.AgentID),
		TotalAmount: ledger.NewMoney(req.TotalAmount),
		StartDate:   startDate,
		EndDate:     endDate,
	})
	if err != nil {
		writeDomainError(w, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// GetBooking returns a single booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get booking", err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Booking not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ConfirmBooking moves a booking to confirmed.
// POST /api/bookings/{id}/confirm
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Machine.Confirm)
}

// CancelBooking moves a booking to cancelled.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Machine.Cancel)
}

// CompleteBooking moves a booking to completed.
// POST /api/bookings/{id}/complete
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Machine.Complete)
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error),
) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	b, err := op(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// AdjustBookingAmount changes a booking's total amount.
// PUT /api/bookings/{id}/amount
func (h *Handler) AdjustBookingAmount(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	var req AdjustAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "admin"
	}

	b, err := h.Machine.AdjustAmount(r.Context(), id, ledger.NewMoney(req.TotalAmount), actor)
	if err != nil {
		writeDomainError(w, "Failed to adjust amount", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// GetBookingAudit returns the audit trail for a booking.
// GET /api/bookings/{id}/audit
func (h *Handler) GetBookingAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Store.ListAudit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ListCommissions returns commissions, optionally filtered by status.
// GET /api/commissions?status=pending
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	statuses := []ledger.CommissionStatus{
		ledger.CommissionPending, ledger.CommissionApproved,
		ledger.CommissionPaid, ledger.CommissionCancelled,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = []ledger.CommissionStatus{ledger.CommissionStatus(s)}
	}

	records, err := h.Store.ListCommissionsByStatus(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}
	dtos := make([]CommissionDTO, len(records))
	for i, c := range records {
		dtos[i] = toCommissionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveCommission moves a pending commission to approved.
// POST /api/commissions/{id}/approve
func (h *Handler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	id := ledger.CommissionID(chi.URLParam(r, "id"))

	var req ApproveCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required", nil)
		return
	}

	c, err := h.Commissions.Approve(r.Context(), id, req.ApprovedBy)
	if err != nil {
		writeDomainError(w, "Failed to approve commission", err)
		return
	}
	h.appendAudit(r, ledger.AuditCommissionApproved, string(id), map[string]string{
		"approved_by": req.ApprovedBy,
	})
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// PayCommission moves an approved commission to paid and records the
// outgoing payout.
// POST /api/commissions/{id}/pay
func (h *Handler) PayCommission(w http.ResponseWriter, r *http.Request) {
	id := ledger.CommissionID(chi.URLParam(r, "id"))

	var req PayCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required", nil)
		return
	}

	c, err := h.Commissions.MarkAsPaid(r.Context(), id, req.Method, req.Reference)
	if err != nil {
		writeDomainError(w, "Failed to pay commission", err)
		return
	}
	h.appendAudit(r, ledger.AuditCommissionPaid, string(id), map[string]string{
		"method": req.Method, "amount": c.Amount.String(),
	})

	// The payout record is a secondary step. The commission is paid
	// either way; a failure here is drift for the books, not a payout
	// that didn't happen.
	if _, err := h.Payments.RecordPayout(r.Context(), c, req.Method, req.Reference); err != nil {
		log.Printf("[API] commission %s: payout record failed: %v", id, err)
	}

	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records an incoming customer payment for a booking.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	agentID := ledger.AgentID(req.AgentID)
	if agentID == "" {
		b, err := h.Store.GetBooking(r.Context(), ledger.BookingID(req.BookingID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get booking", err)
			return
		}
		if b == nil {
			writeError(w, http.StatusNotFound, "Booking not found", nil)
			return
		}
		agentID = b.AgentID
	}

	p, err := h.Payments.RecordIncoming(r.Context(), agentID,
		ledger.BookingID(req.BookingID), ledger.NewMoney(req.Amount), req.Method, req.Reference)
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerReconcile runs a reconciliation sweep immediately.
// POST /api/admin/reconcile
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	run, err := h.Sweeper.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileRunDTO(*run))
}

// ListReconcileRuns returns past sweep outcomes, newest first.
// GET /api/admin/reconcile/runs
func (h *Handler) ListReconcileRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]ReconcileRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toReconcileRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInsufficientCredit),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrDuplicateReservation),
		errors.Is(err, ledger.ErrDuplicateCommission),
		errors.Is(err, ledger.ErrImmutableRecord),
		errors.Is(err, booking.ErrPaymentRequired),
		errors.Is(err, booking.ErrNotYetEnded):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) appendAudit(r *http.Request, action ledger.AuditAction, entityID string, payload map[string]string) {
	if err := h.Store.AppendAudit(r.Context(), ledger.AuditEntry{
		ActorID:  "api",
		Action:   action,
		EntityID: entityID,
		Payload:  payload,
	}); err != nil {
		log.Printf("[API] audit append failed for %s: %v", entityID, err)
	}
}
