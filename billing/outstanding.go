/*
outstanding.go - Outstanding-period enumeration

PURPOSE:
  Expands a debt-months count into the explicit list of period keys owed,
  anchored at a reference period. Used to generate statements and labels
  ("owes 2024-03, 2024-02").

ORDERING:
  Newest first: index i maps to anchor - i months, so the anchor period
  itself leads and the oldest owed period closes the list.
*/
package billing

import (
	"math"

	"github.com/skylink/billing-engine/period"
)

// OutstandingPeriods returns the whole periods owed, walking backward
// from the anchor one month at a time.
//
// Returns nil when the anchor is invalid, debtMonths is not finite, or
// the debt is at or below MonthEpsilon (sub-month debts produce no
// enumerable whole periods). Entries whose arithmetic fails to produce
// a valid key are silently skipped; the result may be shorter than
// floor(debtMonths) but enumeration never fails.
func OutstandingPeriods(anchor period.Key, debtMonths float64) []period.Key {
	if !anchor.Valid() {
		return nil
	}
	if math.IsNaN(debtMonths) || math.IsInf(debtMonths, 0) {
		return nil
	}
	if debtMonths <= MonthEpsilon {
		return nil
	}

	completeMonths := int(math.Max(math.Floor(debtMonths), 0))
	keys := make([]period.Key, 0, completeMonths)
	for i := 0; i < completeMonths; i++ {
		k := anchor.AddMonths(-i)
		if !k.Valid() {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}
