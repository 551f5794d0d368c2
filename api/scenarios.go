/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the store with recognizable demo data so the API can be explored
  without manual setup. Each scenario drives real domain operations (the
  state machine, the payment ledger) rather than inserting rows, so the
  seeded state is exactly what production traffic would have produced.

SEE ALSO:
  - server.go: /api/scenarios routes
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/voyago/agency-ledger/booking"
	"github.com/voyago/agency-ledger/factory"
	"github.com/voyago/agency-ledger/ledger"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-agency",
		Name:        "Busy Agency",
		Description: "Three agents with bookings across the whole lifecycle: pending, confirmed, completed with commissions, and a cancellation.",
	},
	{
		ID:          "credit-pressure",
		Name:        "Credit Pressure",
		Description: "One agent close to their credit limit, demonstrating warning/critical health and a rejected reservation.",
	},
}

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded most recently.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": h.currentScenario})
}

// LoadScenario seeds the store with one of the demo scenarios.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var err error
	switch req.ID {
	case "busy-agency":
		err = h.loadBusyAgency(r.Context())
	case "credit-pressure":
		err = h.loadCreditPressure(r.Context())
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %q", req.ID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ID
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": req.ID})
}

func (h *Handler) seedAgent(ctx context.Context, profile string) error {
	account, err := h.AgentFactory.ParseAgent(profile)
	if err != nil {
		return err
	}
	existing, err := h.Store.GetAgent(ctx, account.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return h.Store.CreateAgent(ctx, *account)
}

func (h *Handler) loadBusyAgency(ctx context.Context) error {
	profiles := []string{
		factory.PremiumAgentJSON("agt-horizon", "Horizon Travel"),
		factory.StandardAgentJSON("agt-skyline", "Skyline Tours"),
		`{"id": "agt-local", "name": "Local Desk", "tier": "starter", "commission_rate": 9}`,
	}
	for _, p := range profiles {
		if err := h.seedAgent(ctx, p); err != nil {
			return err
		}
	}

	now := time.Now()

	// A pending booking awaiting payment.
	if _, err := h.Machine.Create(ctx, booking.CreateInput{
		ID: "bk-maldives", AgentID: "agt-horizon",
		TotalAmount: ledger.NewMoney(8200),
		StartDate:   now.AddDate(0, 1, 0), EndDate: now.AddDate(0, 1, 10),
	}); err != nil {
		return err
	}

	// A confirmed booking with a deposit on record.
	if _, err := h.Machine.Create(ctx, booking.CreateInput{
		ID: "bk-kyoto", AgentID: "agt-skyline",
		TotalAmount: ledger.NewMoney(4600),
		StartDate:   now.AddDate(0, 2, 0), EndDate: now.AddDate(0, 2, 14),
	}); err != nil {
		return err
	}
	if _, err := h.Payments.RecordIncoming(ctx, "agt-skyline", "bk-kyoto",
		ledger.NewMoney(1500), "card", "dep-kyoto"); err != nil {
		return err
	}
	if _, err := h.Machine.Confirm(ctx, "bk-kyoto"); err != nil {
		return err
	}

	// A finished trip: completed booking with a pending commission.
	if _, err := h.Machine.Create(ctx, booking.CreateInput{
		ID: "bk-lisbon", AgentID: "agt-horizon",
		TotalAmount: ledger.NewMoney(3100),
		StartDate:   now.AddDate(0, 0, -20), EndDate: now.AddDate(0, 0, -13),
	}); err != nil {
		return err
	}
	if _, err := h.Payments.RecordIncoming(ctx, "agt-horizon", "bk-lisbon",
		ledger.NewMoney(3100), "bank_transfer", "inv-lisbon"); err != nil {
		return err
	}
	if _, err := h.Machine.Confirm(ctx, "bk-lisbon"); err != nil {
		return err
	}
	if _, err := h.Machine.Complete(ctx, "bk-lisbon"); err != nil {
		return err
	}

	// A cancellation that released its hold.
	if _, err := h.Machine.Create(ctx, booking.CreateInput{
		ID: "bk-oslo", AgentID: "agt-local",
		TotalAmount: ledger.NewMoney(1900),
		StartDate:   now.AddDate(0, 3, 0), EndDate: now.AddDate(0, 3, 7),
	}); err != nil {
		return err
	}
	if _, err := h.Machine.Cancel(ctx, "bk-oslo"); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadCreditPressure(ctx context.Context) error {
	if err := h.seedAgent(ctx,
		`{"id": "agt-maxed", "name": "Maxed Out Travel", "credit_limit": 10000, "commission_rate": 10}`); err != nil {
		return err
	}

	now := time.Now()
	amounts := map[ledger.BookingID]float64{
		"bk-pressure-1": 4000,
		"bk-pressure-2": 3500,
		"bk-pressure-3": 2000,
	}
	for id, amount := range amounts {
		if _, err := h.Machine.Create(ctx, booking.CreateInput{
			ID: id, AgentID: "agt-maxed",
			TotalAmount: ledger.NewMoney(amount),
			StartDate:   now.AddDate(0, 1, 0), EndDate: now.AddDate(0, 1, 7),
		}); err != nil {
			return err
		}
	}

	// 9500 of 10000 held: critical health, and the next sizable booking
	// will be rejected.
	return nil
}
