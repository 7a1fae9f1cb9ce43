/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's value types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY IN RESPONSES:
  Decimal values are rendered as float64 for the frontend; the engine
  keeps full decimal precision internally. Request amounts come in via
  factory.FlexAmount so both numbers and numeric strings are accepted.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/record.go: The loose inbound client shape
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/billing"
	"github.com/skylink/billing-engine/factory"
	"github.com/skylink/billing-engine/period"
	"github.com/skylink/billing-engine/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ServiceDTO represents a service record in API responses.
type ServiceDTO struct {
	ID                    string   `json:"id"`
	Type                  string   `json:"type"`
	Status                string   `json:"status"`
	CoverageEndPeriod     string   `json:"coverage_end_period,omitempty"`
	PartialCoveragePeriod string   `json:"partial_coverage_period,omitempty"`
	PartialCoverageAmount float64  `json:"partial_coverage_amount"`
	EffectivePrice        *float64 `json:"effective_price,omitempty"`
	Price                 *float64 `json:"price,omitempty"`
	CustomPrice           *float64 `json:"custom_price,omitempty"`
}

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	MonthlyFee    *float64     `json:"monthly_fee,omitempty"`
	Services      []ServiceDTO `json:"services"`
	PaymentStatus string       `json:"payment_status"`
}

// CoverageDTO represents a coverage context.
type CoverageDTO struct {
	CoverageEnd   string  `json:"coverage_end,omitempty"`
	PartialPeriod string  `json:"partial_period,omitempty"`
	AheadMonths   float64 `json:"ahead_months"`
	DebtMonths    float64 `json:"debt_months"`
	HasPartial    bool    `json:"has_partial"`
	PartialAmount float64 `json:"partial_amount"`
	IsCovered     bool    `json:"is_covered"`
}

// DebtDTO represents a debt summary.
type DebtDTO struct {
	DebtMonths     float64 `json:"debt_months"`
	DebtAmount     float64 `json:"debt_amount"`
	MonthlyFee     float64 `json:"monthly_fee"`
	FractionalDebt float64 `json:"fractional_debt"`
	TotalDue       float64 `json:"total_due"`
}

// BillingDTO is the full billing assessment for one client.
type BillingDTO struct {
	ClientID        string      `json:"client_id"`
	ReferencePeriod string      `json:"reference_period"`
	Coverage        CoverageDTO `json:"coverage"`
	Debt            DebtDTO     `json:"debt"`
	PaymentStatus   string      `json:"payment_status"`
}

// StatementDTO lists the periods a client owes.
type StatementDTO struct {
	ClientID           string   `json:"client_id"`
	ReferencePeriod    string   `json:"reference_period"`
	DebtMonths         float64  `json:"debt_months"`
	OutstandingPeriods []string `json:"outstanding_periods"`
}

// PaymentRequest is the request to apply a payment.
type PaymentRequest struct {
	Amount         factory.FlexAmount `json:"amount"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// PaymentResultDTO is the outcome of applying a payment.
type PaymentResultDTO struct {
	PaymentID       string   `json:"payment_id"`
	MonthsAdvanced  int      `json:"months_advanced"`
	SettledPeriods  []string `json:"settled_periods"`
	CoverageEnd     string   `json:"coverage_end,omitempty"`
	PartialPeriod   string   `json:"partial_period,omitempty"`
	PartialAmount   float64  `json:"partial_amount"`
	PaymentStatus   string   `json:"payment_status"`
	ReferencePeriod string   `json:"reference_period"`
}

// PaymentDTO represents one entry in the payment history.
type PaymentDTO struct {
	ID               string  `json:"id"`
	ServiceID        string  `json:"service_id"`
	Amount           float64 `json:"amount"`
	MonthsAdvanced   int     `json:"months_advanced"`
	CoverageEndAfter string  `json:"coverage_end_after,omitempty"`
	ReferencePeriod  string  `json:"reference_period,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// OverviewDTO counts clients per payment status.
type OverviewDTO struct {
	ReferencePeriod string `json:"reference_period"`
	Total           int    `json:"total"`
	Paid            int    `json:"paid"`
	DueSoon         int    `json:"due_soon"`
	Pending         int    `json:"pending"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toServiceDTO(svc billing.ServiceRecord) ServiceDTO {
	amount, _ := svc.PartialCoverageAmount.Float64()
	return ServiceDTO{
		ID:                    svc.ID,
		Type:                  string(svc.Type),
		Status:                string(svc.Status),
		CoverageEndPeriod:     svc.CoverageEnd.String(),
		PartialCoveragePeriod: svc.PartialCoveragePeriod.String(),
		PartialCoverageAmount: amount,
		EffectivePrice:        toFloatPtr(svc.EffectivePrice),
		Price:                 toFloatPtr(svc.Price),
		CustomPrice:           toFloatPtr(svc.CustomPrice),
	}
}

func toClientDTO(c *billing.Client, status billing.Status) ClientDTO {
	services := make([]ServiceDTO, len(c.Services))
	for i, svc := range c.Services {
		services[i] = toServiceDTO(svc)
	}
	return ClientDTO{
		ID:            c.ID,
		Name:          c.Name,
		MonthlyFee:    toFloatPtr(c.MonthlyFee),
		Services:      services,
		PaymentStatus: string(status),
	}
}

func toCoverageDTO(cov billing.CoverageContext) CoverageDTO {
	partial, _ := cov.PartialAmount.Float64()
	return CoverageDTO{
		CoverageEnd:   cov.CoverageEnd.String(),
		PartialPeriod: cov.PartialPeriod.String(),
		AheadMonths:   cov.AheadMonths,
		DebtMonths:    cov.DebtMonths,
		HasPartial:    cov.HasPartial,
		PartialAmount: partial,
		IsCovered:     cov.IsCovered,
	}
}

func toDebtDTO(debt billing.DebtSummary) DebtDTO {
	amount, _ := debt.DebtAmount.Float64()
	fee, _ := debt.MonthlyFee.Float64()
	total, _ := debt.TotalDue.Float64()
	return DebtDTO{
		DebtMonths:     debt.DebtMonths,
		DebtAmount:     amount,
		MonthlyFee:     fee,
		FractionalDebt: debt.FractionalDebt,
		TotalDue:       total,
	}
}

func toPaymentDTO(p sqlite.PaymentRecord) PaymentDTO {
	amount, _ := p.Amount.Float64()
	return PaymentDTO{
		ID:               p.ID,
		ServiceID:        p.ServiceID,
		Amount:           amount,
		MonthsAdvanced:   p.MonthsAdvanced,
		CoverageEndAfter: p.CoverageEndAfter.String(),
		ReferencePeriod:  p.ReferencePeriod.String(),
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPeriodStrings(keys []period.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func toFloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}
