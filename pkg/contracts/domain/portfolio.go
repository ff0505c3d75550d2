package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType describes the broad layout family of a statement.
type DocumentType string

const (
	DocumentTypeStatement   DocumentType = "portfolio_statement"
	DocumentTypeValuation   DocumentType = "valuation_report"
	DocumentTypeTransaction DocumentType = "transaction_list"
	DocumentTypeUnknown     DocumentType = "unknown"
)

// InstitutionUnknown is the classifier label used when no signature
// table entry scores above the minimum match threshold.
const InstitutionUnknown = "unknown"

// PortfolioContext carries per-document metadata produced by the
// institution classifier. It is created once per document and read-only
// for every downstream stage.
type PortfolioContext struct {
	DocumentID    string           `json:"document_id"`
	Filename      string           `json:"filename"`
	Institution   string           `json:"institution"`
	DocumentType  DocumentType     `json:"document_type"`
	ExpectedTotal *decimal.Decimal `json:"expected_total,omitempty"`
	BaseCurrency  string           `json:"base_currency"`
	ReportDate    *time.Time       `json:"report_date,omitempty"`
}

// HasExpectedTotal reports whether the classifier found a document-stated
// total. When absent, the accuracy check is skipped rather than failed.
func (c *PortfolioContext) HasExpectedTotal() bool {
	return c.ExpectedTotal != nil
}
