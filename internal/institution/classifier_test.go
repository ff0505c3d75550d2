package institution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portex/pkg/contracts/domain"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	return NewClassifier(reg, DefaultClassifierConfig(), nil)
}

func TestClassifyKnownInstitution(t *testing.T) {
	c := newTestClassifier(t)

	text := `UBS Switzerland AG
Bahnhofstrasse 45, 8001 Zürich
Portfolio Statement as of 31.12.2023
Your custody account in CHF

ISIN Description Quantity Price Market Value
CH0012032048 ROCHE HOLDING AG 100 250.00 CHF 25'000.00

Total assets CHF 19'464'431`

	pc := c.Classify(context.Background(), "doc-1", "ubs.pdf", text)

	assert.Equal(t, "ubs", pc.Institution)
	assert.Equal(t, domain.DocumentTypeStatement, pc.DocumentType)
	assert.Equal(t, "CHF", pc.BaseCurrency)
	require.NotNil(t, pc.ExpectedTotal)
	assert.True(t, decimal.NewFromInt(19464431).Equal(*pc.ExpectedTotal))
	require.NotNil(t, pc.ReportDate)
	assert.Equal(t, 2023, pc.ReportDate.Year())
	assert.Equal(t, 31, pc.ReportDate.Day())
}

func TestClassifySingleMatchIsNotEnough(t *testing.T) {
	c := newTestClassifier(t)

	// One signature hit stays below the minimum match threshold.
	pc := c.Classify(context.Background(), "doc-2", "x.pdf", "Mentions UBS AG once, nothing else familiar.")
	assert.Equal(t, domain.InstitutionUnknown, pc.Institution)
}

func TestClassifyUnknownUsesGenericTotal(t *testing.T) {
	c := newTestClassifier(t)

	text := `Some Private Bank
Portfolio overview

XS2530201644 TORONTO DOMINION BANK NOTES USD 1'991'980.00

Total amount USD 1'991'980.00`

	pc := c.Classify(context.Background(), "doc-3", "other.pdf", text)

	assert.Equal(t, domain.InstitutionUnknown, pc.Institution)
	require.NotNil(t, pc.ExpectedTotal)
	assert.True(t, decimal.NewFromInt(1991980).Equal(*pc.ExpectedTotal))
	assert.Equal(t, "USD", pc.BaseCurrency)
}

func TestClassifyMissingTotalDoesNotBlock(t *testing.T) {
	c := newTestClassifier(t)

	pc := c.Classify(context.Background(), "doc-4", "x.pdf", "Holdings overview without any stated sum. CH0012032048")
	assert.Nil(t, pc.ExpectedTotal)
	assert.False(t, pc.HasExpectedTotal())
}

func TestClassifyRejectsImplausibleTotal(t *testing.T) {
	c := newTestClassifier(t)

	// "Total 7" is a page artifact, not a portfolio total.
	pc := c.Classify(context.Background(), "doc-5", "x.pdf", "Total 7 positions")
	assert.Nil(t, pc.ExpectedTotal)
}

func TestRegistryParseErrors(t *testing.T) {
	_, err := ParseRegistry([]byte("institutions:\n  - patterns: [x]\n"))
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("institutions:\n  - id: x\n    total_patterns: [\"(\"]\n"))
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("institutions:\n  - id: x\n    total_patterns: [\"total\"]\n"))
	assert.Error(t, err)
}

func TestColumnKeywordsFallback(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)

	ubs := reg.ColumnKeywordsFor("ubs")
	assert.Contains(t, ubs["identifier"], "valor")

	generic := reg.ColumnKeywordsFor("unknown")
	assert.Contains(t, generic["value"], "market value")
}
