// Package extract implements the candidate extraction strategies: every
// strategy turns raw engine output into a CandidateSet of securities with
// per-field confidence. Strategies are independent, side-effect free and
// safe to run concurrently; fusion reconciles their answers afterwards.
package extract

import (
	"context"
	"strings"

	"portex/pkg/contracts/domain"
)

// Strategy is the common contract of the candidate extractors. Extract
// must not mutate the portfolio context; its only output is the returned
// candidate set.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, result *domain.EngineResult, pc *domain.PortfolioContext) (*domain.CandidateSet, error)
}

// Confidence model shared by the strategies: each strategy starts from its
// own base and applies the same identifier and corroboration adjustments,
// so a verified identifier always outranks a format-only one within and
// across strategies.
const (
	verifiedBonus     = 0.05
	unverifiedPenalty = 0.25
	contextWordBonus  = 0.05
)

// contextWords corroborate that a numeric literal is a position value and
// not noise. Multi-language, matching the statement corpus.
var contextWords = []string{
	"market value", "kurswert", "valorisation", "valuation",
	"nominal", "montant", "gegenwert", "amount",
}

// adjustForIdentifier applies the identifier-tier confidence adjustment
// and clamps to [0,1].
func adjustForIdentifier(base float64, status domain.IdentifierStatus) float64 {
	switch status {
	case domain.IdentifierVerified:
		base += verifiedBonus
	case domain.IdentifierFormatValid:
		base -= unverifiedPenalty
	}
	return clamp01(base)
}

// hasContextWord reports whether the text contains any corroborating word.
func hasContextWord(text string) bool {
	lowered := strings.ToLower(text)
	for _, w := range contextWords {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// categoryRules map name fragments to instrument categories, checked in
// order so the more specific fragments win.
var categoryRules = []struct {
	fragment string
	category domain.SecurityCategory
}{
	{"money market", domain.CategoryMoneyMarket},
	{"treasury bill", domain.CategoryMoneyMarket},
	{"structured", domain.CategoryStructured},
	{"certificate", domain.CategoryStructured},
	{"barrier", domain.CategoryStructured},
	{"etf", domain.CategoryFund},
	{"fund", domain.CategoryFund},
	{"fonds", domain.CategoryFund},
	{"sicav", domain.CategoryFund},
	{"notes", domain.CategoryBond},
	{"note", domain.CategoryBond},
	{"bond", domain.CategoryBond},
	{"anleihe", domain.CategoryBond},
	{"obligation", domain.CategoryBond},
	{"shares", domain.CategoryEquity},
	{" shs", domain.CategoryEquity},
	{"registered", domain.CategoryEquity},
	{"namen-aktien", domain.CategoryEquity},
	{" inc", domain.CategoryEquity},
	{" corp", domain.CategoryEquity},
	{"holding", domain.CategoryEquity},
	{" ag", domain.CategoryEquity},
	{" sa", domain.CategoryEquity},
	{" plc", domain.CategoryEquity},
}

// Categorize derives the instrument category from the security name. The
// XS prefix marks international debt issues, so it overrides a missing
// name.
func Categorize(name, identifier string) domain.SecurityCategory {
	lowered := " " + strings.ToLower(strings.TrimSpace(name)) + " "
	for _, rule := range categoryRules {
		if strings.Contains(lowered, rule.fragment) {
			return rule.category
		}
	}
	if strings.HasPrefix(identifier, "XS") {
		return domain.CategoryBond
	}
	return domain.CategoryUnclassified
}
