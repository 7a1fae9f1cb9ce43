/*
Package billing implements the billing-period & coverage engine.

PURPOSE:
  Turns a client's service record into a debt/coverage assessment and a
  payment-status classification. This is the one piece of the back office
  whose bugs translate directly into wrong bills, so it is kept pure:
  every function is a total function of its explicit inputs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client / ServiceRecord: the snapshot the engine assesses
  - CoverageContext: how far paid coverage extends vs. a reference period
  - DebtSummary: coverage converted into money owed
  - Status: the three-valued payment classification the UI consumes

DESIGN PRINCIPLES:
  1. Purity: no I/O, no clocks, no shared state. The reference period is
     always passed in; callers own the wall clock (period.Now).
  2. Precision: money is decimal.Decimal, never float64.
  3. Degradation: malformed or missing billing data never raises. Invalid
     periods mean "insufficient information" and map to the safest default.
  4. Values, not entities: CoverageContext, DebtSummary and Status have no
     identity or storage; they are recomputed whenever inputs change.

USAGE:
  ref, _ := period.Parse("2024-03")
  cov := billing.ResolveCoverage(client, ref)
  debt := billing.SummarizeDebt(client, ref, fallbackFee)
  status := billing.ClassifyPayment(client, ref, fallbackFee)

SEE ALSO:
  - coverage.go: CoverageContext derivation
  - debt.go: DebtSummary derivation and fee precedence
  - status.go: the status rule set
  - outstanding.go: expansion of debt months into period keys
*/
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/period"
)

// MonthEpsilon is the tolerance below which a fractional month count is
// treated as whole. The value is billing policy, not an implementation
// detail; change it here and nowhere else.
const MonthEpsilon = 0.0001

// =============================================================================
// SERVICE RECORD - What a client subscribes to
// =============================================================================

// ServiceType identifies the kind of subscription a service record bills for.
type ServiceType string

const (
	ServiceInternet ServiceType = "internet"
	ServiceHotspot  ServiceType = "hotspot"
	ServiceTV       ServiceType = "tv"
	ServiceVoIP     ServiceType = "voip"
)

// IsInternetLike reports whether this type qualifies a record as the
// client's primary service.
func (t ServiceType) IsInternetLike() bool {
	return t == ServiceInternet || t == ServiceHotspot
}

// ServiceStatus is the operational state of a service. Display-only for
// billing purposes: coverage math does not branch on it.
type ServiceStatus string

const (
	StatusActive              ServiceStatus = "active"
	StatusSuspended           ServiceStatus = "suspended"
	StatusCancelled           ServiceStatus = "cancelled"
	StatusPendingInstallation ServiceStatus = "pending_installation"
	StatusBillingBlocked      ServiceStatus = "billing_blocked"
	StatusBlocked             ServiceStatus = "blocked"
)

// ServiceRecord is the billing-relevant subset of a subscription.
//
// Period fields hold the zero (invalid) period.Key when absent; unparsable
// raw values are resolved to the invalid key at the boundary (see the
// factory package) so the engine treats absent and malformed identically.
//
// The three fee fields mirror the loosely-typed upstream record: the first
// non-nil one wins, in the order EffectivePrice, Price, CustomPrice.
type ServiceRecord struct {
	ID     string
	Type   ServiceType
	Status ServiceStatus

	// Last period the client has fully paid for. Invalid = never covered.
	CoverageEnd period.Key

	// Partial payment applied toward the next unpaid period, if any.
	PartialCoveragePeriod period.Key
	PartialCoverageAmount decimal.Decimal

	EffectivePrice *decimal.Decimal
	Price          *decimal.Decimal
	CustomPrice    *decimal.Decimal
}

// =============================================================================
// CLIENT - Snapshot the engine assesses
// =============================================================================

// Client is a subscriber with zero or more service records.
type Client struct {
	ID       string
	Name     string
	Services []ServiceRecord

	// Generic per-client fee, consulted after the primary service's
	// fee fields and before the caller-supplied fallback.
	MonthlyFee *decimal.Decimal
}

// PrimaryService selects the record billing is computed from: the first
// internet-like service, else the first service of any type, else nil.
func (c *Client) PrimaryService() *ServiceRecord {
	if c == nil || len(c.Services) == 0 {
		return nil
	}
	for i := range c.Services {
		if c.Services[i].Type.IsInternetLike() {
			return &c.Services[i]
		}
	}
	return &c.Services[0]
}

// =============================================================================
// COVERAGE CONTEXT - Derived, never stored
// =============================================================================

// CoverageContext describes where a client's paid coverage sits relative
// to a reference period.
//
// INVARIANT: AheadMonths and DebtMonths are never both positive. Coverage
// is on one side of the reference period or exactly aligned with it.
type CoverageContext struct {
	CoverageEnd   period.Key
	PartialPeriod period.Key

	// Whole months of coverage beyond the reference period.
	AheadMonths float64

	// Whole months owed up to (and including) the reference period.
	DebtMonths float64

	// True only when a partial payment applies to the reference period
	// or later AND its amount is positive. Stale markers are scrubbed.
	HasPartial    bool
	PartialAmount decimal.Decimal

	// Coverage reaches the reference period (delta >= 0).
	IsCovered bool
}

// =============================================================================
// DEBT SUMMARY - Coverage converted to money
// =============================================================================

// DebtSummary is the monetary view of a coverage context.
//
// INVARIANT: TotalDue = DebtMonths * MonthlyFee + DebtAmount, and every
// quantity is >= 0. DebtMonths (whole unpaid periods) and DebtAmount (the
// unpaid remainder of one partially paid period) are different things and
// are never conflated.
type DebtSummary struct {
	DebtMonths     float64
	DebtAmount     decimal.Decimal
	MonthlyFee     decimal.Decimal
	FractionalDebt float64
	TotalDue       decimal.Decimal
}

// =============================================================================
// PAYMENT STATUS - Three-valued classification
// =============================================================================

// Status is the payment-status classification consumed by the UI.
// It is always recomputed from a client snapshot, never cached.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusDueSoon Status = "due_soon"
	StatusPending Status = "pending"
)
