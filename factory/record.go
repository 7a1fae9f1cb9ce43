/*
Package factory converts loose JSON client records into typed billing records.

PURPOSE:
  The back-office frontend and legacy imports ship client records in a
  duck-typed shape: fee fields that may be numbers, numeric strings, empty
  strings or missing entirely; period fields that may hold anything. This
  package resolves that looseness ONCE, at the boundary, into the explicit
  optional-field types the billing engine works with. Past this point,
  "absent" and "unparsable" have already been decided.

COERCION RULES:
  - Fee/amount fields: JSON numbers and numeric strings parse to decimals;
    empty strings, malformed strings and null are absent. Never an error.
  - Period fields: anything that is not a canonical "YYYY-MM" token
    resolves to the invalid period key (absent).
  - Unknown service types pass through verbatim; the engine only cares
    whether a type is internet-like.

USAGE:
  var raw factory.ClientJSON
  json.Unmarshal(body, &raw)
  client := raw.ToClient()

SEE ALSO:
  - billing/types.go: the typed record shapes and fee precedence
  - api/handlers.go: the consumer of this boundary
*/
package factory

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/billing"
	"github.com/skylink/billing-engine/period"
)

// =============================================================================
// FLEXIBLE SCALARS
// =============================================================================

// FlexAmount is a decimal that unmarshals from a JSON number, a numeric
// string, an empty string or null. Absent and unparsable are the same.
type FlexAmount struct {
	Value decimal.Decimal
	Set   bool
}

func (f *FlexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = FlexAmount{}
		return nil
	}
	// Strings: unquote, then try as a plain decimal.
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = FlexAmount{}
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			*f = FlexAmount{}
			return nil
		}
		*f = FlexAmount{Value: d, Set: true}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		*f = FlexAmount{}
		return nil
	}
	*f = FlexAmount{Value: d, Set: true}
	return nil
}

func (f FlexAmount) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(f.Value.String()), nil
}

// ptr returns the optional-decimal form the billing types use.
func (f FlexAmount) ptr() *decimal.Decimal {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// orZero returns the value, or zero when absent.
func (f FlexAmount) orZero() decimal.Decimal {
	if !f.Set {
		return decimal.Zero
	}
	return f.Value
}

// =============================================================================
// JSON SHAPES
// =============================================================================

// ServiceJSON is the wire shape of a service record.
type ServiceJSON struct {
	ID                    string     `json:"id"`
	Type                  string     `json:"type"`
	Status                string     `json:"status"`
	CoverageEndPeriod     string     `json:"coverage_end_period"`
	PartialCoveragePeriod string     `json:"partial_coverage_period"`
	PartialCoverageAmount FlexAmount `json:"partial_coverage_amount"`
	EffectivePrice        FlexAmount `json:"effective_price"`
	Price                 FlexAmount `json:"price"`
	CustomPrice           FlexAmount `json:"custom_price"`
}

// ClientJSON is the wire shape of a client record.
type ClientJSON struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	MonthlyFee FlexAmount    `json:"monthly_fee"`
	Services   []ServiceJSON `json:"services"`
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ToService resolves the loose service shape into the typed record.
// Unparsable period tokens become the invalid key.
func (s ServiceJSON) ToService() billing.ServiceRecord {
	coverageEnd, _ := period.Parse(s.CoverageEndPeriod)
	partialPeriod, _ := period.Parse(s.PartialCoveragePeriod)

	return billing.ServiceRecord{
		ID:                    s.ID,
		Type:                  billing.ServiceType(s.Type),
		Status:                billing.ServiceStatus(s.Status),
		CoverageEnd:           coverageEnd,
		PartialCoveragePeriod: partialPeriod,
		PartialCoverageAmount: s.PartialCoverageAmount.orZero(),
		EffectivePrice:        s.EffectivePrice.ptr(),
		Price:                 s.Price.ptr(),
		CustomPrice:           s.CustomPrice.ptr(),
	}
}

// ToClient resolves the loose client shape into the typed record.
func (c ClientJSON) ToClient() *billing.Client {
	services := make([]billing.ServiceRecord, len(c.Services))
	for i, s := range c.Services {
		services[i] = s.ToService()
	}
	return &billing.Client{
		ID:         c.ID,
		Name:       c.Name,
		MonthlyFee: c.MonthlyFee.ptr(),
		Services:   services,
	}
}
