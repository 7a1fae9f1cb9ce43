/*
handlers.go - HTTP API handlers for the billing back office

PURPOSE:
  Exposes the billing engine and the client roster via REST. Handles HTTP
  request/response and JSON serialization, and delegates every billing
  decision to the pure engine.

ENDPOINTS:
  Clients:
    GET    /api/clients                    List roster with payment status
    POST   /api/clients                    Create client (loose JSON shape)
    GET    /api/clients/export             Roster assessment as CSV
    GET    /api/clients/{id}               Get client details
    GET    /api/clients/{id}/billing       Coverage + debt + status
    GET    /api/clients/{id}/statement     Outstanding periods owed
    GET    /api/clients/{id}/payments      Payment history
    POST   /api/clients/{id}/payments      Apply a payment

  Overview:
    GET    /api/overview                   Status counts across the roster

REFERENCE PERIOD:
  Every read accepts ?period=YYYY-MM to assess against a specific period.
  When omitted, the handler's clock supplies the current period. The
  engine itself never reads the wall clock.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Client not found
  - 409: Conflict (duplicate payment idempotency key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/billing"
	"github.com/skylink/billing-engine/factory"
	"github.com/skylink/billing-engine/period"
	"github.com/skylink/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store

	// FallbackFee is the last resort of the fee precedence chain, for
	// records that carry no price anywhere.
	FallbackFee decimal.Decimal

	// now supplies the wall clock. Overridable in tests.
	now func() time.Time
}

// NewHandler creates a new handler with the given store and fallback fee.
func NewHandler(store *sqlite.Store, fallbackFee decimal.Decimal) *Handler {
	return &Handler{
		Store:       store,
		FallbackFee: fallbackFee,
		now:         time.Now,
	}
}

// referencePeriod resolves the reference period for a request:
// ?period=YYYY-MM when present and valid, else the current period.
func (h *Handler) referencePeriod(r *http.Request) (period.Key, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return period.Now(h.now()), true
	}
	key, ok := period.Parse(raw)
	return key, ok
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns the roster with each client's payment status.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i := range clients {
		status := billing.ClassifyPayment(&clients[i], ref, h.FallbackFee)
		dtos[i] = toClientDTO(&clients[i], status)
	}
	respondJSON(w, http.StatusOK, dtos)
}

// CreateClient creates a client from the loose JSON record shape.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var raw factory.ClientJSON
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "invalid_body")
		return
	}
	if raw.ID == "" || raw.Name == "" {
		respondError(w, http.StatusBadRequest, "id and name are required", "missing_fields")
		return
	}

	client := raw.ToClient()
	for i := range client.Services {
		if client.Services[i].ID == "" {
			client.Services[i].ID = newID("svc")
		}
	}

	if err := h.Store.CreateClient(r.Context(), client); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	ref := period.Now(h.now())
	status := billing.ClassifyPayment(client, ref, h.FallbackFee)
	respondJSON(w, http.StatusCreated, toClientDTO(client, status))
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	client, err := h.loadClient(w, r)
	if err != nil {
		return
	}

	status := billing.ClassifyPayment(client, ref, h.FallbackFee)
	respondJSON(w, http.StatusOK, toClientDTO(client, status))
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GetBilling returns the full billing assessment for a client.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	client, err := h.loadClient(w, r)
	if err != nil {
		return
	}

	cov := billing.ResolveCoverage(client, ref)
	debt := billing.SummarizeDebt(client, ref, h.FallbackFee)
	status := billing.ClassifyPayment(client, ref, h.FallbackFee)

	respondJSON(w, http.StatusOK, BillingDTO{
		ClientID:        client.ID,
		ReferencePeriod: ref.String(),
		Coverage:        toCoverageDTO(cov),
		Debt:            toDebtDTO(debt),
		PaymentStatus:   string(status),
	})
}

// GetStatement returns the explicit list of periods a client owes.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	client, err := h.loadClient(w, r)
	if err != nil {
		return
	}

	cov := billing.ResolveCoverage(client, ref)
	outstanding := billing.OutstandingPeriods(ref, cov.DebtMonths)

	respondJSON(w, http.StatusOK, StatementDTO{
		ClientID:           client.ID,
		ReferencePeriod:    ref.String(),
		DebtMonths:         cov.DebtMonths,
		OutstandingPeriods: toPeriodStrings(outstanding),
	})
}

// GetOverview returns payment status counts across the roster.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	overview := OverviewDTO{ReferencePeriod: ref.String(), Total: len(clients)}
	for i := range clients {
		switch billing.ClassifyPayment(&clients[i], ref, h.FallbackFee) {
		case billing.StatusPaid:
			overview.Paid++
		case billing.StatusDueSoon:
			overview.DueSoon++
		case billing.StatusPending:
			overview.Pending++
		}
	}
	respondJSON(w, http.StatusOK, overview)
}

// ExportClients streams the roster as CSV for the back office: one row
// per client with its assessment against the reference period.
func (h *Handler) ExportClients(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		`attachment; filename="roster-`+ref.String()+`.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"client_id", "name", "payment_status", "coverage_end",
		"debt_months", "monthly_fee", "total_due",
	})
	for i := range clients {
		c := &clients[i]
		cov := billing.ResolveCoverage(c, ref)
		debt := billing.SummarizeDebt(c, ref, h.FallbackFee)
		status := billing.ClassifyPayment(c, ref, h.FallbackFee)

		cw.Write([]string{
			c.ID,
			c.Name,
			string(status),
			cov.CoverageEnd.String(),
			strconv.FormatFloat(debt.DebtMonths, 'f', -1, 64),
			debt.MonthlyFee.String(),
			debt.TotalDue.String(),
		})
	}
	cw.Flush()
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ApplyPayment applies a received amount to a client's coverage and
// records it in the append-only payment log.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referencePeriod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid period parameter", "invalid_period")
		return
	}

	client, err := h.loadClient(w, r)
	if err != nil {
		return
	}

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "invalid_body")
		return
	}
	if !req.Amount.Set || !req.Amount.Value.IsPositive() {
		respondError(w, http.StatusBadRequest, "amount must be a positive number", "invalid_amount")
		return
	}

	svc := client.PrimaryService()
	if svc == nil {
		respondError(w, http.StatusBadRequest, "client has no service to pay for", "no_service")
		return
	}

	app := billing.ApplyPayment(client, ref, req.Amount.Value, h.FallbackFee)

	record := sqlite.PaymentRecord{
		ID:               newID("pay"),
		ClientID:         client.ID,
		ServiceID:        svc.ID,
		Amount:           req.Amount.Value,
		MonthsAdvanced:   app.MonthsAdvanced,
		CoverageEndAfter: app.CoverageEnd,
		ReferencePeriod:  ref,
		IdempotencyKey:   req.IdempotencyKey,
	}
	if err := h.Store.RecordPayment(r.Context(), record); err != nil {
		if errors.Is(err, sqlite.ErrDuplicatePayment) {
			respondError(w, http.StatusConflict, "payment already processed", "duplicate_payment")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	if err := h.Store.UpdateServiceCoverage(r.Context(), svc.ID,
		app.CoverageEnd, app.PartialPeriod, app.PartialAmount); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	// Reclassify against the new coverage fields.
	svc.CoverageEnd = app.CoverageEnd
	svc.PartialCoveragePeriod = app.PartialPeriod
	svc.PartialCoverageAmount = app.PartialAmount
	status := billing.ClassifyPayment(client, ref, h.FallbackFee)

	partial, _ := app.PartialAmount.Float64()
	respondJSON(w, http.StatusOK, PaymentResultDTO{
		PaymentID:       record.ID,
		MonthsAdvanced:  app.MonthsAdvanced,
		SettledPeriods:  toPeriodStrings(app.SettledPeriods),
		CoverageEnd:     app.CoverageEnd.String(),
		PartialPeriod:   app.PartialPeriod.String(),
		PartialAmount:   partial,
		PaymentStatus:   string(status),
		ReferencePeriod: ref.String(),
	})
}

// ListPayments returns a client's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	client, err := h.loadClient(w, r)
	if err != nil {
		return
	}

	payments, err := h.Store.ListPayments(r.Context(), client.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	respondJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// loadClient fetches the client from the URL parameter, writing the
// error response itself when the lookup fails.
func (h *Handler) loadClient(w http.ResponseWriter, r *http.Request) (*billing.Client, error) {
	id := chi.URLParam(r, "id")
	client, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		if errors.Is(err, sqlite.ErrClientNotFound) {
			respondError(w, http.StatusNotFound, "client not found", "not_found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error(), "")
		}
		return nil, err
	}
	return client, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func newID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
