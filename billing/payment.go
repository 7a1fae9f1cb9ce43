/*
payment.go - Payment application

PURPOSE:
  The point-of-sale operation: applying a received amount to a client's
  coverage. Kept in the engine because it is the inverse of the coverage
  math: coverage resolution reads the service record, payment application
  computes the record's next state, and both must agree on the rules.

HOW A PAYMENT SETTLES:
  1. Any live partial amount joins the pool (it was already paid toward
     the next unpaid period).
  2. Whole fees are peeled off the pool, each advancing coverage by one
     month past the current coverage end.
  3. Whatever is left becomes the new partial payment on the next unpaid
     period, or nothing if the pool divided evenly.

  A client with no parsable coverage end starts one month before the
  reference period, so the first settled month is the reference period
  itself.

PURITY:
  ApplyPayment mutates nothing. It returns the resulting coverage fields;
  persisting them onto the service record is the storage layer's job.
*/
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/period"
)

// PaymentApplication is the computed outcome of applying a payment.
type PaymentApplication struct {
	// New coverage fields for the primary service record.
	CoverageEnd   period.Key
	PartialPeriod period.Key
	PartialAmount decimal.Decimal

	// Whole periods newly settled by this payment, oldest first.
	SettledPeriods []period.Key

	// MonthsAdvanced is len(SettledPeriods), kept for display.
	MonthsAdvanced int
}

// ApplyPayment computes how a received amount extends the client's
// coverage at the effective monthly fee.
//
// A non-positive amount, a nil client without a fallback-priced service,
// or a non-positive fee leaves coverage unchanged: money that cannot be
// converted into months is not silently swallowed into coverage state.
func ApplyPayment(c *Client, ref period.Key, amount, fallbackFee decimal.Decimal) PaymentApplication {
	cov := ResolveCoverage(c, ref)
	unchanged := PaymentApplication{
		CoverageEnd:   cov.CoverageEnd,
		PartialPeriod: cov.PartialPeriod,
		PartialAmount: cov.PartialAmount,
	}

	fee := ResolveMonthlyFee(c, fallbackFee)
	if !fee.IsPositive() || !amount.IsPositive() || !ref.Valid() {
		return unchanged
	}

	// Coverage base: last fully paid period, or the month before the
	// reference period so the first settled month is the reference.
	base := cov.CoverageEnd
	if !base.Valid() {
		base = ref.AddMonths(-1)
	}

	// The live partial was already paid toward the next unpaid period.
	pool := amount.Add(cov.PartialAmount)

	months := int(pool.Div(fee).IntPart())
	remainder := pool.Sub(fee.Mul(decimal.NewFromInt(int64(months))))

	settled := make([]period.Key, 0, months)
	for i := 1; i <= months; i++ {
		settled = append(settled, base.AddMonths(i))
	}

	app := PaymentApplication{
		CoverageEnd:    base.AddMonths(months),
		SettledPeriods: settled,
		MonthsAdvanced: months,
		PartialAmount:  decimal.Zero,
	}
	if remainder.IsPositive() {
		app.PartialPeriod = app.CoverageEnd.AddMonths(1)
		app.PartialAmount = remainder
	}
	return app
}
