/*
Package period provides billing-period arithmetic.

PURPOSE:
  A billing period is a calendar month, represented by the canonical
  token "YYYY-MM" (e.g. "2024-03"). This package owns everything the
  billing engine needs to do with periods: parsing, ordering, whole-month
  arithmetic, and the caller's notion of "now".

KEY DESIGN POINTS:
  1. Whole months only. There is no day or hour granularity anywhere in
     billing; the month token is the unit of billing time.
  2. Invalid input never panics or errors. Parse returns an invalid Key,
     Diff reports ok=false. Callers degrade to conservative defaults.
  3. The zero Key is invalid. An absent period field and an unparsable
     period field look the same to the engine, which is intentional.

USAGE:
  ref, _ := period.Parse("2024-03")
  end, _ := period.Parse("2024-01")
  months, ok := period.Diff(ref, end) // -2, true

SEE ALSO:
  - billing/coverage.go: the main consumer of Diff
  - billing/outstanding.go: the main consumer of AddMonths
*/
package period

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// KEY - Canonical month token
// =============================================================================

// Key identifies a single billing period (one calendar month).
// The zero value is invalid; obtain valid keys via Parse, New or Now.
type Key struct {
	year  int
	month time.Month
	valid bool
}

// New constructs a Key for the given year and month.
// Out-of-range months are normalized the way time.Date normalizes them
// (month 13 of 2024 becomes January 2025).
func New(year int, month time.Month) Key {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Key{year: t.Year(), month: t.Month(), valid: true}
}

// Parse validates and parses the canonical "YYYY-MM" token.
// Invalid input returns (Key{}, false), never an error.
func Parse(s string) (Key, bool) {
	if len(s) != 7 || s[4] != '-' {
		return Key{}, false
	}
	for i := 0; i < len(s); i++ {
		if i == 4 {
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return Key{}, false
		}
	}
	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[5:])
	if year < 1 || month < 1 || month > 12 {
		return Key{}, false
	}
	return Key{year: year, month: time.Month(month), valid: true}, true
}

// Now returns the period containing the given wall-clock time.
// The engine never calls time.Now itself; callers own the clock.
func Now(now time.Time) Key {
	return New(now.Year(), now.Month())
}

// Valid reports whether the key represents a real period.
func (k Key) Valid() bool { return k.valid }

// Year returns the calendar year, or 0 for an invalid key.
func (k Key) Year() int { return k.year }

// Month returns the calendar month, or 0 for an invalid key.
func (k Key) Month() time.Month { return k.month }

// String renders the canonical token, or "" for an invalid key.
func (k Key) String() string {
	if !k.valid {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", k.year, int(k.month))
}

// =============================================================================
// ORDERING
// =============================================================================

// index maps a key onto a monotonic month counter for comparison.
func (k Key) index() int { return k.year*12 + int(k.month) - 1 }

func (k Key) Equal(other Key) bool {
	return k.valid && other.valid && k.index() == other.index()
}

func (k Key) Before(other Key) bool {
	return k.valid && other.valid && k.index() < other.index()
}

func (k Key) After(other Key) bool {
	return k.valid && other.valid && k.index() > other.index()
}

// =============================================================================
// ARITHMETIC
// =============================================================================

// AddMonths shifts the key by delta whole months (negative shifts backward),
// rolling over year boundaries. Shifting an invalid key yields an invalid key.
func (k Key) AddMonths(delta int) Key {
	if !k.valid {
		return Key{}
	}
	return New(k.year, k.month+time.Month(delta))
}

// Diff returns the signed number of whole months from a to b
// (positive when b is after a). ok is false if either key is invalid.
func Diff(a, b Key) (months int, ok bool) {
	if !a.valid || !b.valid {
		return 0, false
	}
	return b.index() - a.index(), true
}
