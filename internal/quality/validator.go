// Package quality checks a merged security list against the document's
// stated totals and internal arithmetic, then turns the findings into an
// accept/escalate decision with a letter grade.
package quality

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"portex/pkg/contracts/domain"
)

// ValidatorConfig holds the tolerances for mathematical validation.
type ValidatorConfig struct {
	// PriceTolerance is the maximum relative gap allowed between
	// quantity x unit price and the reported market value.
	PriceTolerance float64 `envconfig:"PRICE_TOLERANCE" default:"0.001"`
	// FxTolerance is the maximum relative gap allowed between the
	// original-currency value converted at the stated rate and the
	// reported base-currency value.
	FxTolerance float64 `envconfig:"FX_TOLERANCE" default:"0.005"`
	// TotalTolerance is how far the extracted total may deviate from the
	// document-stated total before the mismatch is critical.
	TotalTolerance float64 `envconfig:"TOTAL_TOLERANCE" default:"0.001"`
}

// DefaultValidatorConfig returns the tolerances used in production.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		PriceTolerance: 0.001,
		FxTolerance:    0.005,
		TotalTolerance: 0.001,
	}
}

// Validator cross-checks the merged securities against the expected total
// and per-security arithmetic. Findings never alter the security data.
type Validator struct {
	config ValidatorConfig
	logger *slog.Logger
}

// NewValidator creates a validator with the given tolerances.
func NewValidator(config ValidatorConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		config: config,
		logger: logger.With(slog.String("component", "validator")),
	}
}

// Validate builds the validation report for a merged security list.
// A missing expected total leaves the accuracy score unset and records a
// low-severity issue; it never blocks the run.
func (v *Validator) Validate(ctx context.Context, securities []domain.Security, pc *domain.PortfolioContext) *domain.ValidationReport {
	report := &domain.ValidationReport{
		PerSecurityChecks: make([]domain.SecurityCheck, 0, len(securities)),
	}

	total := decimal.Zero
	for i := range securities {
		s := &securities[i]
		total = total.Add(s.MarketValue)
		report.PerSecurityChecks = append(report.PerSecurityChecks, v.checkSecurity(s, report))
	}
	report.ExtractedTotal = total

	if pc != nil && pc.HasExpectedTotal() {
		expected := *pc.ExpectedTotal
		report.ExpectedTotal = &expected
		score := accuracy(total, expected)
		report.AccuracyScore = &score

		if 1-score > v.config.TotalTolerance {
			report.Issues = append(report.Issues, domain.Issue{
				Severity: domain.SeverityCritical,
				Type:     domain.IssueTotalMismatch,
				Message: fmt.Sprintf("extracted total %s deviates from statement total %s (accuracy %.4f)",
					total, expected, score),
			})
		}
	} else {
		report.Issues = append(report.Issues, domain.Issue{
			Severity: domain.SeverityLow,
			Type:     domain.IssueNoExpectedTotal,
			Message:  "no statement total detected; total reconciliation skipped",
		})
	}

	v.logger.InfoContext(ctx, "validation complete",
		slog.String("extracted_total", total.String()),
		slog.Bool("expected_total_known", report.ExpectedTotal != nil),
		slog.Int("issues", len(report.Issues)),
		slog.Int("critical", report.CriticalCount()))
	return report
}

// checkSecurity runs the per-security checks and appends any findings to
// the report's issue list.
func (v *Validator) checkSecurity(s *domain.Security, report *domain.ValidationReport) domain.SecurityCheck {
	check := domain.SecurityCheck{
		Identifier:     s.Identifier,
		ChecksumPassed: s.IdentifierStatus == domain.IdentifierVerified,
	}

	if !check.ChecksumPassed {
		report.Issues = append(report.Issues, domain.Issue{
			Severity:   domain.SeverityHigh,
			Type:       domain.IssueUnverifiedID,
			Identifier: s.Identifier,
			Message:    fmt.Sprintf("identifier %s did not pass checksum verification", s.Identifier),
		})
	}

	if s.HasQuantity() {
		ok := v.priceConsistent(s)
		check.PriceConsistent = &ok
		if !ok {
			report.Issues = append(report.Issues, domain.Issue{
				Severity:   domain.SeverityMedium,
				Type:       domain.IssuePriceInconsistency,
				Identifier: s.Identifier,
				Message: fmt.Sprintf("%s: quantity %s x unit price %s does not reproduce market value %s",
					s.Identifier, s.Quantity, s.UnitPrice, s.MarketValue),
			})
		}
	}

	if s.OriginalValue != nil && s.FxRate != nil && !s.FxRate.IsZero() {
		ok := relativeGap(s.OriginalValue.Div(*s.FxRate), s.MarketValue) <= v.config.FxTolerance
		check.FxConsistent = &ok
		if !ok {
			report.Issues = append(report.Issues, domain.Issue{
				Severity:   domain.SeverityMedium,
				Type:       domain.IssueFxMismatch,
				Identifier: s.Identifier,
				Message: fmt.Sprintf("%s: original value %s %s at rate %s does not reproduce %s %s",
					s.Identifier, s.OriginalValue, s.OriginalCurrency, s.FxRate, s.MarketValue, s.Currency),
			})
		}
	}

	return check
}

// priceConsistent accepts either an absolute unit price or a
// percent-of-par price, as bond statements quote both.
func (v *Validator) priceConsistent(s *domain.Security) bool {
	product := s.Quantity.Mul(*s.UnitPrice)
	if relativeGap(product, s.MarketValue) <= v.config.PriceTolerance {
		return true
	}
	parProduct := product.Div(decimal.NewFromInt(100))
	return relativeGap(parProduct, s.MarketValue) <= v.config.PriceTolerance
}

// accuracy is min(a,b)/max(a,b), the agreement ratio between the
// extracted and statement totals.
func accuracy(a, b decimal.Decimal) float64 {
	if a.IsZero() && b.IsZero() {
		return 1
	}
	min, max := a, b
	if min.GreaterThan(max) {
		min, max = max, min
	}
	if max.IsZero() {
		return 0
	}
	score, _ := min.Div(max).Float64()
	return score
}

func relativeGap(a, b decimal.Decimal) float64 {
	diff := a.Sub(b).Abs()
	denom := a.Abs()
	if b.Abs().GreaterThan(denom) {
		denom = b.Abs()
	}
	if denom.IsZero() {
		return 0
	}
	gap, _ := diff.Div(denom).Float64()
	return gap
}
