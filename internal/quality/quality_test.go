package quality

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portex/pkg/contracts/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func contextWithTotal(total string) *domain.PortfolioContext {
	t := dec(total)
	return &domain.PortfolioContext{
		DocumentID:    "doc-1",
		Institution:   "ubs",
		ExpectedTotal: &t,
		BaseCurrency:  "CHF",
	}
}

func verified(id, value string) domain.Security {
	return domain.Security{
		Identifier:       id,
		IdentifierStatus: domain.IdentifierVerified,
		Name:             "HOLDING",
		MarketValue:      dec(value),
		Currency:         "CHF",
		Confidence:       0.9,
	}
}

func TestValidateAccuracyExactMatch(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	report := v.Validate(context.Background(), []domain.Security{
		verified("CH0012032048", "19000000"),
		verified("XS2530201644", "464431"),
	}, contextWithTotal("19464431"))

	require.NotNil(t, report.AccuracyScore)
	assert.Equal(t, 1.0, *report.AccuracyScore)
	assert.True(t, dec("19464431").Equal(report.ExtractedTotal))
	assert.Zero(t, report.CriticalCount())
}

func TestValidateAccuracyMismatch(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	report := v.Validate(context.Background(), []domain.Security{
		verified("CH0012032048", "19464431"),
	}, contextWithTotal("10000000"))

	require.NotNil(t, report.AccuracyScore)
	assert.InDelta(t, 0.514, *report.AccuracyScore, 0.001)

	require.NotEmpty(t, report.Issues)
	assert.Equal(t, domain.IssueTotalMismatch, report.Issues[0].Type)
	assert.Equal(t, domain.SeverityCritical, report.Issues[0].Severity)
}

func TestValidateMissingTotalIsNotFatal(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	report := v.Validate(context.Background(), []domain.Security{
		verified("CH0012032048", "25000"),
	}, &domain.PortfolioContext{DocumentID: "doc-1", Institution: domain.InstitutionUnknown})

	assert.Nil(t, report.AccuracyScore)
	assert.Nil(t, report.ExpectedTotal)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, domain.IssueNoExpectedTotal, report.Issues[0].Type)
	assert.Equal(t, domain.SeverityLow, report.Issues[0].Severity)
	assert.Zero(t, report.CriticalCount())
}

func TestValidateUnverifiedIdentifierIsHighSeverity(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	s := verified("US0378331004", "25000")
	s.IdentifierStatus = domain.IdentifierFormatValid

	report := v.Validate(context.Background(), []domain.Security{s}, contextWithTotal("25000"))

	require.Len(t, report.PerSecurityChecks, 1)
	assert.False(t, report.PerSecurityChecks[0].ChecksumPassed)

	found := false
	for _, is := range report.Issues {
		if is.Type == domain.IssueUnverifiedID {
			found = true
			assert.Equal(t, domain.SeverityHigh, is.Severity)
			assert.Equal(t, "US0378331004", is.Identifier)
		}
	}
	assert.True(t, found)
}

func TestValidatePriceConsistency(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	q := dec("100")
	absolute := dec("250")
	consistent := verified("CH0012032048", "25000")
	consistent.Quantity = &q
	consistent.UnitPrice = &absolute

	// Bond quoted as percent of par: 2'000'000 nominal at 99.599.
	nominal := dec("2000000")
	par := dec("99.599")
	parPriced := verified("XS2530201644", "1991980")
	parPriced.Quantity = &nominal
	parPriced.UnitPrice = &par

	off := dec("300")
	inconsistent := verified("US0378331005", "25000")
	inconsistent.Quantity = &q
	inconsistent.UnitPrice = &off

	report := v.Validate(context.Background(),
		[]domain.Security{consistent, parPriced, inconsistent},
		contextWithTotal("2041980"))

	require.Len(t, report.PerSecurityChecks, 3)
	require.NotNil(t, report.PerSecurityChecks[0].PriceConsistent)
	assert.True(t, *report.PerSecurityChecks[0].PriceConsistent)
	require.NotNil(t, report.PerSecurityChecks[1].PriceConsistent)
	assert.True(t, *report.PerSecurityChecks[1].PriceConsistent)
	require.NotNil(t, report.PerSecurityChecks[2].PriceConsistent)
	assert.False(t, *report.PerSecurityChecks[2].PriceConsistent)

	var types []string
	for _, is := range report.Issues {
		types = append(types, is.Type)
	}
	assert.Contains(t, types, domain.IssuePriceInconsistency)
}

func TestValidateFxCheck(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig(), nil)

	// 1'000'000 USD at 0.9434 USD/CHF is 1'060'000 CHF.
	orig := dec("1000000")
	rate := dec("0.943396")
	s := verified("XS2530201644", "1060000.63")
	s.OriginalValue = &orig
	s.OriginalCurrency = "USD"
	s.FxRate = &rate

	report := v.Validate(context.Background(), []domain.Security{s}, contextWithTotal("1060000.63"))

	require.Len(t, report.PerSecurityChecks, 1)
	require.NotNil(t, report.PerSecurityChecks[0].FxConsistent)
	assert.True(t, *report.PerSecurityChecks[0].FxConsistent)

	bad := dec("0.5")
	s.FxRate = &bad
	report = v.Validate(context.Background(), []domain.Security{s}, contextWithTotal("1060000.63"))
	require.NotNil(t, report.PerSecurityChecks[0].FxConsistent)
	assert.False(t, *report.PerSecurityChecks[0].FxConsistent)
}

func TestGateEscalatesBelowThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	score := 0.995
	report := &domain.ValidationReport{AccuracyScore: &score}

	decision := g.Evaluate(context.Background(), report, 0.999)
	assert.Equal(t, domain.GateEscalated, decision.State)
	assert.True(t, decision.RequiresHumanReview())

	found := false
	for _, is := range decision.Issues {
		if is.Type == domain.IssueAccuracyBelowTarget {
			found = true
			assert.Equal(t, domain.SeverityCritical, is.Severity)
		}
	}
	assert.True(t, found)
}

func TestGatePassesAboveThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	score := 0.9995
	report := &domain.ValidationReport{AccuracyScore: &score}

	decision := g.Evaluate(context.Background(), report, 0.999)
	assert.Equal(t, domain.GatePassed, decision.State)
	assert.False(t, decision.RequiresHumanReview())
	assert.Equal(t, domain.GradeAPlus, decision.Grade)
}

func TestGateEscalatesOnCriticalIssueDespiteAccuracy(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	score := 1.0
	report := &domain.ValidationReport{
		AccuracyScore: &score,
		Issues: []domain.Issue{{
			Severity: domain.SeverityCritical,
			Type:     domain.IssueTotalMismatch,
			Message:  "totals disagree",
		}},
	}

	decision := g.Evaluate(context.Background(), report, 0)
	assert.Equal(t, domain.GateEscalated, decision.State)
}

func TestGateUnknownAccuracyCanStillPass(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)

	report := &domain.ValidationReport{
		Issues: []domain.Issue{{
			Severity: domain.SeverityLow,
			Type:     domain.IssueNoExpectedTotal,
			Message:  "no statement total detected",
		}},
	}

	decision := g.Evaluate(context.Background(), report, 0)
	assert.Equal(t, domain.GatePassed, decision.State)
	assert.Equal(t, domain.GradeAPlus, decision.Grade)
}

func TestGradeDeductions(t *testing.T) {
	tests := []struct {
		name   string
		issues []domain.Issue
		want   domain.QualityGrade
	}{
		{"clean", nil, domain.GradeAPlus},
		{"one medium", []domain.Issue{{Severity: domain.SeverityMedium}}, domain.GradeA},
		{"one high", []domain.Issue{{Severity: domain.SeverityHigh}}, domain.GradeAMinus},
		{"two high", []domain.Issue{{Severity: domain.SeverityHigh}, {Severity: domain.SeverityHigh}}, domain.GradeB},
		{"one critical", []domain.Issue{{Severity: domain.SeverityCritical}}, domain.GradeC},
		{"critical and high", []domain.Issue{
			{Severity: domain.SeverityCritical},
			{Severity: domain.SeverityCritical},
			{Severity: domain.SeverityHigh},
		}, domain.GradeF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grade(tt.issues))
		})
	}
}
