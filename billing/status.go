/*
status.go - Payment status classification

PURPOSE:
  Maps a client's coverage context and debt summary to one of three
  discrete statuses the UI consumes: paid, due_soon, pending.

RULE ORDER (first match wins):
  1. Zero or negative fee            -> paid   (free service is settled)
  2. Covered, ahead >= 1 month       -> paid
     Covered, ahead < 1 month        -> due_soon (no buffer into the future)
  3. Live partial, shortfall <= fee  -> due_soon ("almost settled")
  4. Any debt months or debt amount  -> pending
  5. Fallback                        -> pending

  Rules 1 and 5 overlap when fee <= 0 and there is no debt; rule 1 wins
  because it is checked first. The order is load-bearing: keep it exactly
  as written, do not collapse or reorder the rules.
*/
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/period"
)

// ClassifyPayment classifies a client's payment state against the
// reference period. Pure and total: any client snapshot, including nil,
// maps to a status.
func ClassifyPayment(c *Client, ref period.Key, fallbackFee decimal.Decimal) Status {
	cov := ResolveCoverage(c, ref)
	debt := SummarizeDebt(c, ref, fallbackFee)
	return classify(cov, debt)
}

func classify(cov CoverageContext, debt DebtSummary) Status {
	// Rule 1: free service is always settled.
	if !debt.MonthlyFee.IsPositive() {
		return StatusPaid
	}

	// Rule 2: covered through the reference period. Covered with no
	// buffer into the future is flagged ahead of the next billing cycle.
	if cov.IsCovered {
		if cov.AheadMonths < 1 {
			return StatusDueSoon
		}
		return StatusPaid
	}

	// Rule 3: a partial payment on the current period with at most one
	// full fee outstanding is almost settled, not delinquent.
	if cov.HasPartial && debt.DebtAmount.LessThanOrEqual(debt.MonthlyFee) {
		return StatusDueSoon
	}

	// Rule 4: anything owed.
	if debt.DebtMonths > 0 || debt.DebtAmount.IsPositive() {
		return StatusPending
	}

	// Rule 5: no debt and no coverage signal. Should not normally occur,
	// but must not crash.
	return StatusPending
}
