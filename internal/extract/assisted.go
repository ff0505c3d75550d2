package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"portex/internal/engines"
	"portex/internal/isin"
	"portex/pkg/contracts/domain"
)

// AssistedStrategyConfig tunes reasoning-service extraction.
type AssistedStrategyConfig struct {
	// MaxContextChars caps how much document text travels to the service.
	MaxContextChars int
}

// DefaultAssistedStrategyConfig returns the standard assisted settings.
func DefaultAssistedStrategyConfig() AssistedStrategyConfig {
	return AssistedStrategyConfig{
		MaxContextChars: 32_000,
	}
}

// AssistedStrategy wraps the external reasoning service: it sends the
// document text with a constrained output schema and grades the parsed
// response. Without a service-reported certainty, its confidence sits
// below the table and window strategies.
type AssistedStrategy struct {
	client *engines.ReasoningClient
	config AssistedStrategyConfig
	logger *slog.Logger
}

// NewAssistedStrategy creates an assisted strategy over a reasoning
// client.
func NewAssistedStrategy(client *engines.ReasoningClient, config AssistedStrategyConfig, logger *slog.Logger) *AssistedStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistedStrategy{
		client: client,
		config: config,
		logger: logger.With(slog.String("component", "assisted_strategy")),
	}
}

// Name implements Strategy.
func (s *AssistedStrategy) Name() string { return domain.EngineAssisted }

// Extract implements Strategy.
func (s *AssistedStrategy) Extract(ctx context.Context, result *domain.EngineResult, pc *domain.PortfolioContext) (*domain.CandidateSet, error) {
	text := result.Text
	if len(text) > s.config.MaxContextChars {
		text = text[:s.config.MaxContextChars]
	}

	extraction, err := s.client.ExtractHoldings(ctx, text, pc)
	if err != nil {
		return nil, err
	}

	base := s.client.DefaultConfidence()
	if extraction.Confidence != nil {
		base = clamp01(*extraction.Confidence)
	}

	set := &domain.CandidateSet{
		EngineName:       s.Name(),
		EngineConfidence: base,
	}

	for _, a := range extraction.Securities {
		id := strings.ToUpper(strings.TrimSpace(a.Identifier))
		status := isin.Validate(id)
		if status == domain.IdentifierInvalid {
			s.logger.WarnContext(ctx, "assisted candidate has invalid identifier",
				slog.String("document_id", pc.DocumentID),
				slog.String("identifier", a.Identifier))
			continue
		}

		sec := domain.Security{
			Identifier:       id,
			IdentifierStatus: status,
			Name:             CleanName(a.Name),
			MarketValue:      decimal.NewFromFloat(a.MarketValue),
			SourceEngine:     s.Name(),
			Currency:         pc.BaseCurrency,
		}
		if a.Quantity != nil {
			q := decimal.NewFromFloat(*a.Quantity)
			sec.Quantity = &q
		}
		if a.UnitPrice != nil {
			p := decimal.NewFromFloat(*a.UnitPrice)
			sec.UnitPrice = &p
		}
		if code := strings.ToUpper(strings.TrimSpace(a.Currency)); len(code) == 3 {
			sec.Currency = code
		}
		sec.Category = Categorize(sec.Name, sec.Identifier)
		sec.Confidence = adjustForIdentifier(base, status)

		set.Securities = append(set.Securities, sec)
	}

	s.logger.InfoContext(ctx, "assisted extraction finished",
		slog.String("document_id", pc.DocumentID),
		slog.Int("candidates", len(set.Securities)))
	return set, nil
}
