package extract

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portex/internal/institution"
	"portex/internal/numeric"
	"portex/pkg/contracts/domain"
)

func testNormalizer() *numeric.Normalizer {
	return numeric.NewNormalizer(numeric.Window{
		Min: decimal.NewFromInt(1000),
		Max: decimal.NewFromInt(50_000_000),
	})
}

func testRegistry(t *testing.T) *institution.Registry {
	t.Helper()
	reg, err := institution.LoadRegistry("")
	require.NoError(t, err)
	return reg
}

func grid(rows [][]string) domain.Table {
	var table domain.Table
	for ri, row := range rows {
		for ci, content := range row {
			if content == "" {
				continue
			}
			table.Cells = append(table.Cells, domain.TableCell{
				RowIndex:    ri,
				ColumnIndex: ci,
				Content:     content,
			})
		}
	}
	return table
}

func TestTableStrategyExtract(t *testing.T) {
	s := NewTableStrategy(testRegistry(t), testNormalizer(), DefaultTableStrategyConfig(), nil)

	result := &domain.EngineResult{
		Tables: []domain.Table{grid([][]string{
			{"Portfolio Statement", "", "", "", "", ""},
			{"ISIN", "Description", "Quantity", "Price", "Market Value", "Ccy"},
			{"CH0012032048", "ROCHE HOLDING AG", "100", "250.00", "25'000.00", "CHF"},
			{"XS2530201644", "TORONTO DOMINION BANK NOTES", "2'000'000", "99.599", "1'991'980.00", "USD"},
			{"not-an-isin", "GARBAGE ROW", "", "", "123.00", ""},
			{"", "Subtotal", "", "", "2'016'980.00", ""},
		})},
	}
	pc := &domain.PortfolioContext{DocumentID: "doc-1", Institution: "unknown", BaseCurrency: "CHF"}

	set, err := s.Extract(context.Background(), result, pc)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineTable, set.EngineName)
	assert.InDelta(t, 0.85, set.EngineConfidence, 1e-9)
	require.Len(t, set.Securities, 2)

	roche := set.Securities[0]
	assert.Equal(t, "CH0012032048", roche.Identifier)
	assert.Equal(t, domain.IdentifierVerified, roche.IdentifierStatus)
	assert.Equal(t, "ROCHE HOLDING AG", roche.Name)
	assert.True(t, decimal.NewFromInt(25000).Equal(roche.MarketValue))
	require.NotNil(t, roche.Quantity)
	assert.True(t, decimal.NewFromInt(100).Equal(*roche.Quantity))
	require.NotNil(t, roche.UnitPrice)
	assert.True(t, decimal.RequireFromString("250").Equal(*roche.UnitPrice))
	assert.Equal(t, "CHF", roche.Currency)
	assert.Equal(t, domain.CategoryEquity, roche.Category)
	assert.InDelta(t, 0.95, roche.Confidence, 1e-9)

	td := set.Securities[1]
	assert.Equal(t, "XS2530201644", td.Identifier)
	assert.True(t, decimal.NewFromInt(1991980).Equal(td.MarketValue))
	assert.Equal(t, "USD", td.Currency)
	assert.Equal(t, domain.CategoryBond, td.Category)
}

func TestTableStrategyUnverifiedIdentifierLowersConfidence(t *testing.T) {
	s := NewTableStrategy(testRegistry(t), testNormalizer(), DefaultTableStrategyConfig(), nil)

	result := &domain.EngineResult{
		Tables: []domain.Table{grid([][]string{
			{"ISIN", "Description", "Market Value"},
			{"CH0012032049", "ROCHE HOLDING AG", "25'000.00"}, // bad check digit
		})},
	}
	pc := &domain.PortfolioContext{DocumentID: "doc-2", Institution: "unknown", BaseCurrency: "CHF"}

	set, err := s.Extract(context.Background(), result, pc)
	require.NoError(t, err)
	require.Len(t, set.Securities, 1)
	assert.Equal(t, domain.IdentifierFormatValid, set.Securities[0].IdentifierStatus)
	assert.InDelta(t, 0.65, set.Securities[0].Confidence, 1e-9)
}

func TestTableStrategyNoHeaderRow(t *testing.T) {
	s := NewTableStrategy(testRegistry(t), testNormalizer(), DefaultTableStrategyConfig(), nil)

	result := &domain.EngineResult{
		Tables: []domain.Table{grid([][]string{
			{"CH0012032048", "ROCHE HOLDING AG", "25'000.00"},
		})},
	}
	pc := &domain.PortfolioContext{DocumentID: "doc-3", Institution: "unknown", BaseCurrency: "CHF"}

	set, err := s.Extract(context.Background(), result, pc)
	require.NoError(t, err)
	assert.Empty(t, set.Securities)
}

func TestTableStrategyEngineConfidencePassthrough(t *testing.T) {
	s := NewTableStrategy(testRegistry(t), testNormalizer(), DefaultTableStrategyConfig(), nil)

	conf := 0.97
	result := &domain.EngineResult{EngineConfidence: &conf}
	pc := &domain.PortfolioContext{DocumentID: "doc-4", Institution: "unknown", BaseCurrency: "CHF"}

	set, err := s.Extract(context.Background(), result, pc)
	require.NoError(t, err)
	assert.InDelta(t, 0.97, set.EngineConfidence, 1e-9)
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "ROCHE HOLDING AG", CleanName("  ROCHE   HOLDING AG , "))
	assert.Equal(t, "", CleanName(" -- "))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		want       domain.SecurityCategory
	}{
		{name: "TORONTO DOMINION BANK NOTES", want: domain.CategoryBond},
		{name: "APPLE INC", want: domain.CategoryEquity},
		{name: "VANGUARD S&P 500 ETF", want: domain.CategoryFund},
		{name: "BARRIER REVERSE CONVERTIBLE", want: domain.CategoryStructured},
		{name: "", identifier: "XS2530201644", want: domain.CategoryBond},
		{name: "SOMETHING ELSE", want: domain.CategoryUnclassified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.name, tt.identifier), tt.name)
	}
}
