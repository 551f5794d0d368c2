package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/agency-ledger/ledger/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := NewHandler(store.NewMemory())
	handler.Machine.RetryDelay = time.Millisecond
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createAgent(t *testing.T, srv *httptest.Server, id string, limit float64) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/agents", map[string]any{
		"id":              id,
		"name":            "Agent " + id,
		"credit_limit":    limit,
		"commission_rate": 10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func date(d time.Time) string { return d.Format("2006-01-02") }

func TestAgentEndpoints(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv, "agt-1", 10000)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "agt-1", body["id"])
	assert.Equal(t, "10000.00", body["credit_limit"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-1/credit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["health"])
	assert.Equal(t, "10000.00", body["available_credit"])

	// Duplicate creation conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/agents", map[string]any{
		"id": "agt-1", "name": "Duplicate",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Lowering the limit below the agent's open exposure conflicts.
	future := time.Now().AddDate(0, 1, 0)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/bookings", map[string]any{
		"agent_id":     "agt-1",
		"total_amount": 7000,
		"start_date":   date(future),
		"end_date":     date(future.AddDate(0, 0, 7)),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/agents/agt-1/credit-limit",
		map[string]any{"credit_limit": 5000})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/agents/agt-1/credit-limit",
		map[string]any{"credit_limit": 8000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "8000.00", body["credit_limit"])

	// Unknown agent is 404.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/agents/ghost/credit", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv, "agt-1", 10000)

	past := time.Now().Add(-24 * time.Hour)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bookings", map[string]any{
		"agent_id":     "agt-1",
		"total_amount": 3000,
		"start_date":   date(past.AddDate(0, 0, -7)),
		"end_date":     date(past),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bookingID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])

	// Confirmation without payment is rejected.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bookings/%s/confirm", srv.URL, bookingID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Record a payment, then confirm and complete.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/payments", map[string]any{
		"booking_id": bookingID, "amount": 3000, "method": "card",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bookings/%s/confirm", srv.URL, bookingID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bookings/%s/complete", srv.URL, bookingID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	// Completion released the hold and derived a commission.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-1/credit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.00", body["credit_used"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-1/commissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "300.00", summary["outstanding"])

	// The audit trail recorded the whole lifecycle.
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/bookings/%s/audit", srv.URL, bookingID), nil)
	require.NoError(t, err)
	auditResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer auditResp.Body.Close()
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(auditResp.Body).Decode(&entries))
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e["action"].(string)
	}
	assert.Contains(t, actions, "booking_created")
	assert.Contains(t, actions, "booking_confirmed")
	assert.Contains(t, actions, "booking_completed")
}

func TestInsufficientCreditOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv, "agt-1", 1000)

	future := time.Now().AddDate(0, 1, 0)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bookings", map[string]any{
		"agent_id":     "agt-1",
		"total_amount": 2500,
		"start_date":   date(future),
		"end_date":     date(future.AddDate(0, 0, 7)),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["details"], "insufficient credit")
}

func TestCommissionApprovalFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv, "agt-1", 10000)

	// Drive a booking to completed so a commission exists.
	past := time.Now().Add(-24 * time.Hour)
	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/bookings", map[string]any{
		"agent_id": "agt-1", "total_amount": 2000,
		"start_date": date(past.AddDate(0, 0, -7)), "end_date": date(past),
	})
	bookingID := body["id"].(string)
	doJSON(t, http.MethodPost, srv.URL+"/api/payments", map[string]any{
		"booking_id": bookingID, "amount": 2000, "method": "card",
	})
	doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bookings/%s/confirm", srv.URL, bookingID), nil)
	doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bookings/%s/complete", srv.URL, bookingID), nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/commissions?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// ListCommissions returns an array; re-fetch raw.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/commissions?status=pending", nil)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var commissions []map[string]any
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&commissions))
	require.Len(t, commissions, 1)
	commissionID := commissions[0]["id"].(string)

	// Paying before approval is an invalid transition.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/commissions/%s/pay", srv.URL, commissionID),
		map[string]any{"method": "bank_transfer"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/commissions/%s/approve", srv.URL, commissionID),
		map[string]any{"approved_by": "finance"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/commissions/%s/pay", srv.URL, commissionID),
		map[string]any{"method": "bank_transfer", "reference": "tx-77"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", body["status"])

	// The payout shows up in the agent's payment summary.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-1/payments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200.00", body["total_outgoing"])
	assert.Equal(t, "0.00", body["outstanding_balance"])
}

func TestReconcileEndpoints(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv, "agt-1", 10000)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["agents_checked"])

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/admin/reconcile/runs", nil)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var runs []map[string]any
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestScenarioLoading(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{"id": "busy-agency"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "busy-agency", body["id"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/agents/agt-horizon/credit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// bk-maldives still holds 8200; bk-lisbon completed and released.
	assert.Equal(t, "8200.00", body["credit_used"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
