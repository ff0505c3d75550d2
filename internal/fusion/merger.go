// Package fusion reconciles the candidate sets of all extraction
// strategies into one deduplicated security list. Verified identifiers
// merge into the trusted bucket, format-valid-only identifiers into a
// lower-trust bucket; disagreements between engines are surfaced as
// issues, never averaged away.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"portex/pkg/contracts/domain"
)

// MergerConfig tunes candidate fusion.
type MergerConfig struct {
	// NameConfidenceBand is how far below the best contributor's
	// confidence a candidate may sit and still compete on name quality.
	NameConfidenceBand float64
	// ConflictTolerance is the relative market value disagreement between
	// comparable candidates above which a fusion conflict is recorded.
	ConflictTolerance float64
}

// DefaultMergerConfig returns the standard fusion settings. The name band
// is a tunable, not a hidden assumption: widening it favors descriptive
// names from weaker engines.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		NameConfidenceBand: 0.1,
		ConflictTolerance:  0.005,
	}
}

// Merger fuses candidate sets into the canonical security list.
type Merger struct {
	config MergerConfig
	logger *slog.Logger
}

// NewMerger creates a merger.
func NewMerger(config MergerConfig, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		config: config,
		logger: logger.With(slog.String("component", "fusion_merger")),
	}
}

// Merge fuses all candidate sets for one document. The returned list is
// ordered by descending market value, ties broken by identifier; this is
// the canonical presentation order guaranteed to callers.
func (m *Merger) Merge(ctx context.Context, sets []*domain.CandidateSet) ([]domain.Security, []domain.Issue) {
	verified := make(map[string][]domain.Security)
	unverified := make(map[string][]domain.Security)

	for _, set := range sets {
		if set == nil {
			continue
		}
		for i := range set.Securities {
			sec := set.Securities[i].Clone()
			if sec.SourceEngine == "" {
				sec.SourceEngine = set.EngineName
			}
			switch sec.IdentifierStatus {
			case domain.IdentifierVerified:
				verified[sec.Identifier] = append(verified[sec.Identifier], sec)
			case domain.IdentifierFormatValid:
				unverified[sec.Identifier] = append(unverified[sec.Identifier], sec)
			}
		}
	}

	var out []domain.Security
	var issues []domain.Issue
	for _, bucket := range []map[string][]domain.Security{verified, unverified} {
		for _, candidates := range bucket {
			merged, conflict := m.mergeCandidates(candidates)
			if conflict != nil {
				issues = append(issues, *conflict)
			}
			// A security without a market value is not actionable
			// downstream.
			if merged.MarketValue.IsZero() || merged.MarketValue.IsNegative() {
				continue
			}
			out = append(out, merged)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MarketValue.Equal(out[j].MarketValue) {
			return out[i].MarketValue.GreaterThan(out[j].MarketValue)
		}
		return out[i].Identifier < out[j].Identifier
	})

	m.logger.InfoContext(ctx, "fusion finished",
		slog.Int("input_sets", len(sets)),
		slog.Int("merged", len(out)),
		slog.Int("conflicts", len(issues)))
	return out, issues
}

// mergeCandidates folds all candidates for one identifier into a single
// record: numeric fields from the most confident candidate, the best name
// within the confidence band, maximum confidence overall.
func (m *Merger) mergeCandidates(candidates []domain.Security) (domain.Security, *domain.Issue) {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Confidence > candidates[best].Confidence {
			best = i
		}
	}

	merged := candidates[best].Clone()
	maxConfidence := candidates[best].Confidence
	var conflict *domain.Issue

	for i := range candidates {
		c := &candidates[i]

		// Fill numeric fields the winner lacks from weaker candidates.
		if merged.Quantity == nil && c.Quantity != nil {
			q := c.Quantity.Copy()
			merged.Quantity = &q
		}
		if merged.UnitPrice == nil && c.UnitPrice != nil {
			p := c.UnitPrice.Copy()
			merged.UnitPrice = &p
		}
		if merged.Name == "" && c.Name != "" {
			merged.Name = c.Name
		}

		if i == best {
			continue
		}

		// Comparable candidates disagreeing on the value is a finding,
		// not something to average.
		if c.Confidence >= maxConfidence-m.config.NameConfidenceBand &&
			!c.MarketValue.IsZero() &&
			relativeGap(merged.MarketValue, c.MarketValue).GreaterThan(decimal.NewFromFloat(m.config.ConflictTolerance)) {
			conflict = &domain.Issue{
				Severity:   domain.SeverityMedium,
				Type:       domain.IssueFusionConflict,
				Identifier: merged.Identifier,
				Message: fmt.Sprintf("engines %s and %s disagree on market value (%s vs %s)",
					merged.SourceEngine, c.SourceEngine, merged.MarketValue, c.MarketValue),
			}
		}

		merged.Name = m.betterName(merged.Name, merged, c)
	}

	merged.Confidence = maxConfidence
	if merged.Name != "" {
		merged.Category = bestCategory(merged, candidates)
	}
	return merged, conflict
}

// betterName applies the name rule: within the confidence band the longer,
// more descriptive string wins; equal lengths prefer the table strategy.
func (m *Merger) betterName(current string, merged domain.Security, c *domain.Security) string {
	if c.Name == "" {
		return current
	}
	if c.Confidence < merged.Confidence-m.config.NameConfidenceBand {
		return current
	}
	switch {
	case len(c.Name) > len(current):
		return c.Name
	case len(c.Name) == len(current) && c.SourceEngine == domain.EngineTable && merged.SourceEngine != domain.EngineTable:
		return c.Name
	default:
		return current
	}
}

// bestCategory prefers a classified category over unclassified ones.
func bestCategory(merged domain.Security, candidates []domain.Security) domain.SecurityCategory {
	if merged.Category != domain.CategoryUnclassified && merged.Category != "" {
		return merged.Category
	}
	for i := range candidates {
		if c := candidates[i].Category; c != domain.CategoryUnclassified && c != "" {
			return c
		}
	}
	return domain.CategoryUnclassified
}

// relativeGap is |a-b| / max(|a|,|b|), zero when both are zero.
func relativeGap(a, b decimal.Decimal) decimal.Decimal {
	diff := a.Sub(b).Abs()
	denom := a.Abs()
	if b.Abs().GreaterThan(denom) {
		denom = b.Abs()
	}
	if denom.IsZero() {
		return decimal.Zero
	}
	return diff.Div(denom)
}
