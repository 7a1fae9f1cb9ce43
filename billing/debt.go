/*
debt.go - Debt summarization and fee resolution

PURPOSE:
  Converts a coverage context into a monetary debt summary using the
  service's effective monthly fee.

FEE PRECEDENCE:
  The upstream record carries up to three alternately-named fee fields.
  The first value present wins, tried in this order:
    1. primary service EffectivePrice
    2. primary service Price
    3. primary service CustomPrice
    4. client MonthlyFee
    5. caller-supplied fallback
  Precedence is resolved here, once, not re-derived ad hoc by callers.

THE TWO DEBT QUANTITIES:
  DebtMonths: whole unpaid periods (from coverage).
  DebtAmount: the unpaid remainder of the ONE partially paid period,
              max(fee - partialAmount, 0), only when a partial is live.
  TotalDue = DebtMonths*fee + DebtAmount. No other combination is valid;
  the two quantities must never be conflated or double counted.
*/
package billing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/period"
)

// ResolveMonthlyFee returns the effective monthly fee for a client,
// applying the documented precedence order. A nil client resolves
// straight to the fallback.
func ResolveMonthlyFee(c *Client, fallback decimal.Decimal) decimal.Decimal {
	if c == nil {
		return fallback
	}
	if svc := c.PrimaryService(); svc != nil {
		for _, candidate := range []*decimal.Decimal{svc.EffectivePrice, svc.Price, svc.CustomPrice} {
			if candidate != nil {
				return *candidate
			}
		}
	}
	if c.MonthlyFee != nil {
		return *c.MonthlyFee
	}
	return fallback
}

// SummarizeDebt computes the debt summary for a client against the
// reference period. A nil client yields a summary populated entirely
// from the fallback fee with all debt fields zero.
func SummarizeDebt(c *Client, ref period.Key, fallbackFee decimal.Decimal) DebtSummary {
	fee := ResolveMonthlyFee(c, fallbackFee)
	if c == nil {
		return DebtSummary{
			DebtAmount: decimal.Zero,
			MonthlyFee: fee,
			TotalDue:   decimal.Zero,
		}
	}

	cov := ResolveCoverage(c, ref)
	return summarize(cov, fee)
}

// summarize is the shared core: coverage + fee -> summary.
func summarize(cov CoverageContext, fee decimal.Decimal) DebtSummary {
	debtMonths := math.Max(cov.DebtMonths, 0)

	// Sub-month shortfall: the remainder owed on the one partially paid
	// period. Zero unless a live partial payment exists.
	debtAmount := decimal.Zero
	if cov.HasPartial {
		if remainder := fee.Sub(cov.PartialAmount); remainder.IsPositive() {
			debtAmount = remainder
		}
	}

	return DebtSummary{
		DebtMonths:     debtMonths,
		DebtAmount:     debtAmount,
		MonthlyFee:     fee,
		FractionalDebt: FractionalDebt(debtMonths),
		TotalDue:       decimal.NewFromFloat(debtMonths).Mul(fee).Add(debtAmount),
	}
}

// FractionalDebt returns the non-integer remainder of a debt-months
// count. Near-integers within MonthEpsilon count as whole, and a
// non-finite input yields 0.
func FractionalDebt(debtMonths float64) float64 {
	if math.IsNaN(debtMonths) || math.IsInf(debtMonths, 0) {
		return 0
	}
	frac := debtMonths - math.Floor(debtMonths)
	if frac < MonthEpsilon || frac > 1-MonthEpsilon {
		return 0
	}
	return frac
}
