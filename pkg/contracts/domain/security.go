package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecurityCategory classifies a holding by instrument type.
type SecurityCategory string

const (
	CategoryBond         SecurityCategory = "bond"
	CategoryEquity       SecurityCategory = "equity"
	CategoryFund         SecurityCategory = "fund"
	CategoryStructured   SecurityCategory = "structured_product"
	CategoryMoneyMarket  SecurityCategory = "money_market"
	CategoryUnclassified SecurityCategory = "unclassified"
)

// IdentifierStatus is the outcome of ISIN validation for a security.
// A verified identifier passed both the format and checksum stages;
// a format-valid identifier passed only the format stage.
type IdentifierStatus string

const (
	IdentifierVerified    IdentifierStatus = "verified"
	IdentifierFormatValid IdentifierStatus = "format_valid"
	IdentifierInvalid     IdentifierStatus = "invalid"
)

// Correction records one field overwrite applied to a security after
// initial extraction, with the source and reason.
type Correction struct {
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	AppliedAt time.Time `json:"applied_at"`
}

// Security represents one holding extracted from a portfolio statement.
type Security struct {
	Identifier       string           `json:"identifier"`
	IdentifierStatus IdentifierStatus `json:"identifier_status"`
	Name             string           `json:"name"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unit_price,omitempty"`
	MarketValue      decimal.Decimal  `json:"market_value"`
	// OriginalValue and FxRate are set when the statement reports the
	// position in a currency other than the portfolio base currency.
	OriginalValue     *decimal.Decimal `json:"original_value,omitempty"`
	OriginalCurrency  string           `json:"original_currency,omitempty"`
	FxRate            *decimal.Decimal `json:"fx_rate,omitempty"`
	Currency          string           `json:"currency"`
	Category          SecurityCategory `json:"category"`
	Confidence        float64          `json:"confidence"`
	SourceEngine      string           `json:"source_engine"`
	CorrectionHistory []Correction     `json:"correction_history,omitempty"`
}

// HasQuantity reports whether both quantity and unit price are known,
// which is the precondition for the price consistency check.
func (s *Security) HasQuantity() bool {
	return s.Quantity != nil && s.UnitPrice != nil
}

// Clone returns a deep copy of the security. Fusion merges candidates
// field by field and must never alias decimal pointers between records.
func (s *Security) Clone() Security {
	out := *s
	if s.Quantity != nil {
		q := s.Quantity.Copy()
		out.Quantity = &q
	}
	if s.UnitPrice != nil {
		p := s.UnitPrice.Copy()
		out.UnitPrice = &p
	}
	if s.OriginalValue != nil {
		v := s.OriginalValue.Copy()
		out.OriginalValue = &v
	}
	if s.FxRate != nil {
		r := s.FxRate.Copy()
		out.FxRate = &r
	}
	if s.CorrectionHistory != nil {
		out.CorrectionHistory = make([]Correction, len(s.CorrectionHistory))
		copy(out.CorrectionHistory, s.CorrectionHistory)
	}
	return out
}

// RecordCorrection overwrites the named field's tracked value and appends
// an entry to the correction history. Callers update the field itself;
// this keeps the audit trail consistent.
func (s *Security) RecordCorrection(field, oldValue, newValue, reason, source string) {
	s.CorrectionHistory = append(s.CorrectionHistory, Correction{
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Reason:    reason,
		Source:    source,
		AppliedAt: time.Now().UTC(),
	})
}
