/*
coverage.go - Coverage resolution

PURPOSE:
  Answers "how far ahead or behind is this client's paid coverage?" for a
  given reference period. Everything downstream (debt, status, statements)
  is built on the CoverageContext computed here.

KEY RULES:
  - No primary service: the zero/uncovered default. Terminal, not an error.
  - Unparsable coverage end: treated as not covered, zero months both
    ways. Insufficient information never becomes debt.
  - Partial payments are live only when they apply to the reference period
    or later AND carry a positive amount. A partial marker left over from
    a past period must not leak into the present assessment.

SEE ALSO:
  - debt.go: turns the context into money owed
  - status.go: turns context + debt into a classification
*/
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/period"
)

// ResolveCoverage computes the coverage context for a client's primary
// service against the reference period. It never fails: missing or
// malformed data degrades to the uncovered default.
func ResolveCoverage(c *Client, ref period.Key) CoverageContext {
	svc := c.PrimaryService()
	if svc == nil {
		return CoverageContext{PartialAmount: decimal.Zero}
	}

	ctx := CoverageContext{
		CoverageEnd:   svc.CoverageEnd,
		PartialAmount: decimal.Zero,
	}

	// Positive delta: paid ahead. Negative: behind. Unparsable: unknown,
	// which resolves to not covered with zero months both ways.
	if delta, ok := period.Diff(ref, svc.CoverageEnd); ok {
		if delta > 0 {
			ctx.AheadMonths = float64(delta)
		}
		if delta < 0 {
			ctx.DebtMonths = float64(-delta)
		}
		ctx.IsCovered = delta >= 0
	}

	// Partial payment is live only for the reference period or later.
	if partialDelta, ok := period.Diff(ref, svc.PartialCoveragePeriod); ok {
		if partialDelta >= 0 && svc.PartialCoverageAmount.IsPositive() {
			ctx.HasPartial = true
			ctx.PartialPeriod = svc.PartialCoveragePeriod
			ctx.PartialAmount = svc.PartialCoverageAmount
		}
	}

	return ctx
}
