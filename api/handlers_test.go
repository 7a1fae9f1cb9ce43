package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestServer builds a handler over an in-memory store with the clock
// pinned to March 2024, so the default reference period is "2024-03".
func newTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, decimal.Zero)
	h.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return h, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
}

// createClient posts a roster record with one internet service.
func createClient(t *testing.T, router http.Handler, id, coverageEnd, price string) {
	t.Helper()
	svc := map[string]any{
		"id":     id + "-net",
		"type":   "internet",
		"status": "active",
		"price":  price,
	}
	if coverageEnd != "" {
		svc["coverage_end_period"] = coverageEnd
	}
	body := map[string]any{
		"id":       id,
		"name":     "Client " + id,
		"services": []any{svc},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/clients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create client %s: got %d (body: %s)", id, rec.Code, rec.Body.String())
	}
}

// =============================================================================
// CLIENT ENDPOINTS
// =============================================================================

func TestCreateClient_ReturnsStatus(t *testing.T) {
	// GIVEN: A fresh roster
	// WHEN: Creating a client covered through the current period
	// THEN: 201 with the classified payment status
	_, router := newTestServer(t)

	createClient(t, router, "c-1", "2024-03", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var dto ClientDTO
	decode(t, rec, &dto)
	if dto.PaymentStatus != "due_soon" {
		t.Errorf("expected due_soon, got %q", dto.PaymentStatus)
	}
	if len(dto.Services) != 1 || dto.Services[0].CoverageEndPeriod != "2024-03" {
		t.Errorf("service shape wrong: %+v", dto.Services)
	}
}

func TestCreateClient_Validation(t *testing.T) {
	_, router := newTestServer(t)

	// Missing name.
	rec := doJSON(t, router, http.MethodPost, "/api/clients", map[string]any{"id": "c-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", rec.Code)
	}

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", raw.Code)
	}
}

func TestCreateClient_DirtyRecordAccepted(t *testing.T) {
	// GIVEN: A record with malformed fee and period fields
	// WHEN: Creating it
	// THEN: 201, with the dirty fields collapsed to absent rather than
	//       rejected
	_, router := newTestServer(t)

	body := map[string]any{
		"id":   "c-dirty",
		"name": "Dirty Record",
		"services": []any{map[string]any{
			"type":                "internet",
			"status":              "active",
			"coverage_end_period": "03/2024",
			"price":               "n/a",
		}},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/clients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var dto ClientDTO
	decode(t, rec, &dto)
	if dto.Services[0].CoverageEndPeriod != "" {
		t.Errorf("malformed period must be absent, got %q", dto.Services[0].CoverageEndPeriod)
	}
	if dto.Services[0].Price != nil {
		t.Errorf("malformed price must be absent, got %v", *dto.Services[0].Price)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/clients/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListClients_StatusPerClient(t *testing.T) {
	// GIVEN: One client ahead, one behind
	_, router := newTestServer(t)
	createClient(t, router, "ahead", "2024-05", "300")
	createClient(t, router, "behind", "2024-01", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var dtos []ClientDTO
	decode(t, rec, &dtos)
	if len(dtos) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(dtos))
	}

	byID := map[string]string{}
	for _, dto := range dtos {
		byID[dto.ID] = dto.PaymentStatus
	}
	if byID["ahead"] != "paid" {
		t.Errorf("ahead client: expected paid, got %q", byID["ahead"])
	}
	if byID["behind"] != "pending" {
		t.Errorf("behind client: expected pending, got %q", byID["behind"])
	}
}

// =============================================================================
// REFERENCE PERIOD
// =============================================================================

func TestReferencePeriod_QueryOverridesClock(t *testing.T) {
	// GIVEN: A client covered through 2024-03 (due_soon as of "now")
	// WHEN: Assessing against 2024-01 instead
	// THEN: The same record classifies as paid
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-03", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1?period=2024-01", nil)
	var dto ClientDTO
	decode(t, rec, &dto)
	if dto.PaymentStatus != "paid" {
		t.Errorf("expected paid against 2024-01, got %q", dto.PaymentStatus)
	}
}

func TestReferencePeriod_InvalidRejected(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-03", "300")

	for _, q := range []string{"2024-3", "202403", "garbage"} {
		rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1?period="+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("period %q: expected 400, got %d", q, rec.Code)
		}
	}
}

// =============================================================================
// BILLING AND STATEMENT
// =============================================================================

func TestGetBilling(t *testing.T) {
	// GIVEN: Two months behind at fee 300
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-01", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1/billing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var dto BillingDTO
	decode(t, rec, &dto)
	if dto.ReferencePeriod != "2024-03" {
		t.Errorf("expected reference 2024-03, got %q", dto.ReferencePeriod)
	}
	if dto.Coverage.DebtMonths != 2 {
		t.Errorf("expected 2 debt months, got %v", dto.Coverage.DebtMonths)
	}
	if dto.Debt.TotalDue != 600 {
		t.Errorf("expected 600 total due, got %v", dto.Debt.TotalDue)
	}
	if dto.PaymentStatus != "pending" {
		t.Errorf("expected pending, got %q", dto.PaymentStatus)
	}
}

func TestGetStatement(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-01", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1/statement", nil)
	var dto StatementDTO
	decode(t, rec, &dto)

	want := []string{"2024-03", "2024-02"}
	if len(dto.OutstandingPeriods) != len(want) {
		t.Fatalf("expected %d periods, got %v", len(want), dto.OutstandingPeriods)
	}
	for i, p := range dto.OutstandingPeriods {
		if p != want[i] {
			t.Errorf("period %d: got %s, want %s", i, p, want[i])
		}
	}
}

func TestGetOverview(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "a", "2024-05", "300") // paid
	createClient(t, router, "b", "2024-03", "300") // due_soon
	createClient(t, router, "c", "2024-01", "300") // pending

	rec := doJSON(t, router, http.MethodGet, "/api/overview", nil)
	var dto OverviewDTO
	decode(t, rec, &dto)

	if dto.Total != 3 || dto.Paid != 1 || dto.DueSoon != 1 || dto.Pending != 1 {
		t.Errorf("unexpected overview counts: %+v", dto)
	}
}

func TestExportClients_CSV(t *testing.T) {
	// GIVEN: A roster with one delinquent client
	// WHEN: Exporting as CSV
	// THEN: Header row plus one assessed row per client
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-01", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "client_id" {
		t.Errorf("unexpected header: %v", rows[0])
	}

	row := rows[1]
	if row[0] != "c-1" || row[2] != "pending" || row[3] != "2024-01" {
		t.Errorf("unexpected row: %v", row)
	}
	if row[4] != "2" || row[6] != "600" {
		t.Errorf("expected 2 debt months and 600 due, got months=%s due=%s", row[4], row[6])
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestApplyPayment_FullFlow(t *testing.T) {
	// GIVEN: Two months behind at fee 300
	// WHEN: Paying 700
	// THEN: Two months settle, 100 parks as a partial, the record is
	//       persisted and the history shows the payment
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-01", "300")

	rec := doJSON(t, router, http.MethodPost, "/api/clients/c-1/payments",
		map[string]any{"amount": 700, "idempotency_key": "k-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result PaymentResultDTO
	decode(t, rec, &result)
	if result.MonthsAdvanced != 2 || result.CoverageEnd != "2024-03" {
		t.Errorf("expected 2 months to 2024-03, got %d to %s", result.MonthsAdvanced, result.CoverageEnd)
	}
	if result.PartialPeriod != "2024-04" || result.PartialAmount != 100 {
		t.Errorf("expected 100 partial on 2024-04, got %v on %s", result.PartialAmount, result.PartialPeriod)
	}
	if result.PaymentStatus != "due_soon" {
		t.Errorf("expected due_soon after payment, got %q", result.PaymentStatus)
	}

	// Coverage persisted.
	rec = doJSON(t, router, http.MethodGet, "/api/clients/c-1", nil)
	var dto ClientDTO
	decode(t, rec, &dto)
	if dto.Services[0].CoverageEndPeriod != "2024-03" {
		t.Errorf("coverage not persisted: %+v", dto.Services[0])
	}

	// History shows it.
	rec = doJSON(t, router, http.MethodGet, "/api/clients/c-1/payments", nil)
	var payments []PaymentDTO
	decode(t, rec, &payments)
	if len(payments) != 1 || payments[0].Amount != 700 {
		t.Errorf("unexpected payment history: %+v", payments)
	}
}

func TestApplyPayment_StringAmountAccepted(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-02", "300")

	rec := doJSON(t, router, http.MethodPost, "/api/clients/c-1/payments",
		map[string]any{"amount": "300"})
	if rec.Code != http.StatusOK {
		t.Fatalf("numeric string amount must be accepted, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result PaymentResultDTO
	decode(t, rec, &result)
	if result.MonthsAdvanced != 1 {
		t.Errorf("expected 1 month advanced, got %d", result.MonthsAdvanced)
	}
}

func TestApplyPayment_InvalidAmounts(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-02", "300")

	for _, amount := range []any{0, -100, "abc", nil} {
		rec := doJSON(t, router, http.MethodPost, "/api/clients/c-1/payments",
			map[string]any{"amount": amount})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("amount %v: expected 400, got %d", amount, rec.Code)
		}
	}
}

func TestApplyPayment_DuplicateKeyConflicts(t *testing.T) {
	// GIVEN: A payment already recorded under a key
	// WHEN: Retrying with the same key
	// THEN: 409, and coverage moves only once
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-01", "300")

	body := map[string]any{"amount": 300, "idempotency_key": "retry-1"}
	if rec := doJSON(t, router, http.MethodPost, "/api/clients/c-1/payments", body); rec.Code != http.StatusOK {
		t.Fatalf("first payment: expected 200, got %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/api/clients/c-1/payments", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry: expected 409, got %d", rec.Code)
	}

	check := doJSON(t, router, http.MethodGet, "/api/clients/c-1", nil)
	var dto ClientDTO
	decode(t, check, &dto)
	if dto.Services[0].CoverageEndPeriod != "2024-02" {
		t.Errorf("retry must not move coverage, got %s", dto.Services[0].CoverageEndPeriod)
	}
}

func TestApplyPayment_NoServiceRejected(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/clients", map[string]any{
		"id": "c-empty", "name": "No Services",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/clients/c-empty/payments",
		map[string]any{"amount": 300})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for client without services, got %d", rec.Code)
	}
}

func TestListPayments_EmptyHistory(t *testing.T) {
	_, router := newTestServer(t)
	createClient(t, router, "c-1", "2024-03", "300")

	rec := doJSON(t, router, http.MethodGet, "/api/clients/c-1/payments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payments []PaymentDTO
	decode(t, rec, &payments)
	if len(payments) != 0 {
		t.Errorf("expected empty history, got %d entries", len(payments))
	}
}

// =============================================================================
// FALLBACK FEE
// =============================================================================

func TestFallbackFee_UsedWhenNoPriceAnywhere(t *testing.T) {
	// GIVEN: A handler configured with a 250 fallback fee and a client
	//        whose record carries no price at all
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, decimal.RequireFromString("250"))
	h.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	router := NewRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/api/clients", map[string]any{
		"id": "c-1", "name": "No Price",
		"services": []any{map[string]any{
			"type": "internet", "status": "active", "coverage_end_period": "2024-01",
		}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}

	billing := doJSON(t, router, http.MethodGet, "/api/clients/c-1/billing", nil)
	var dto BillingDTO
	decode(t, billing, &dto)
	if dto.Debt.MonthlyFee != 250 {
		t.Errorf("expected fallback fee 250, got %v", dto.Debt.MonthlyFee)
	}
	if dto.Debt.TotalDue != 500 {
		t.Errorf("expected total due 500, got %v", dto.Debt.TotalDue)
	}
}
