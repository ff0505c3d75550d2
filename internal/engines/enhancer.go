package engines

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"portex/internal/numeric"
	"portex/pkg/contracts/domain"
)

// EnhancerConfig tunes batch enhancement through the reasoning service.
type EnhancerConfig struct {
	// ChunkSize is how many securities travel in one reasoning request;
	// payloads stay bounded and a failure loses at most one chunk.
	ChunkSize int
	// RequestsPerSecond paces chunk submissions to respect service rate
	// limits.
	RequestsPerSecond float64
}

// DefaultEnhancerConfig returns the standard enhancement settings.
func DefaultEnhancerConfig() EnhancerConfig {
	return EnhancerConfig{
		ChunkSize:         8,
		RequestsPerSecond: 0.5,
	}
}

// Enhancer runs merged securities through the reasoning service in rate
// limited chunks and applies the returned field corrections.
type Enhancer struct {
	client  *ReasoningClient
	config  EnhancerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewEnhancer creates an enhancer over the given reasoning client.
func NewEnhancer(client *ReasoningClient, config EnhancerConfig, logger *slog.Logger) *Enhancer {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultEnhancerConfig().ChunkSize
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultEnhancerConfig().RequestsPerSecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{
		client:  client,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:  logger.With(slog.String("component", "enhancer")),
	}
}

// Enhance submits the securities chunk by chunk and applies corrections to
// the named fields, recording every overwrite in the correction history.
// A failed chunk falls back to that chunk's pre-enhancement records; the
// rest of the batch proceeds.
func (e *Enhancer) Enhance(ctx context.Context, securities []domain.Security, pc *domain.PortfolioContext) ([]domain.Security, []domain.Issue) {
	if e.client == nil || len(securities) == 0 {
		return securities, nil
	}

	out := make([]domain.Security, len(securities))
	for i := range securities {
		out[i] = securities[i].Clone()
	}

	var issues []domain.Issue
	start := time.Now()
	chunks := 0

	for lo := 0; lo < len(out); lo += e.config.ChunkSize {
		hi := lo + e.config.ChunkSize
		if hi > len(out) {
			hi = len(out)
		}
		chunks++

		if err := e.limiter.Wait(ctx); err != nil {
			// Caller timeout: remaining chunks keep their extracted values.
			issues = append(issues, domain.Issue{
				Severity: domain.SeverityMedium,
				Type:     domain.IssueEngineUnavailable,
				Message:  "enhancement aborted by context: " + err.Error(),
			})
			break
		}

		chunk := out[lo:hi]
		suggestions, err := e.client.SuggestCorrections(ctx, toAssisted(chunk), pc)
		if err != nil {
			e.logger.WarnContext(ctx, "enhancement chunk failed, keeping extracted values",
				slog.Int("chunk_start", lo),
				slog.Int("chunk_size", hi-lo),
				slog.String("error", err.Error()))
			issues = append(issues, domain.Issue{
				Severity: domain.SeverityMedium,
				Type:     domain.IssueEngineUnavailable,
				Message:  "reasoning service failed for one enhancement chunk",
			})
			continue
		}

		for _, s := range suggestions {
			e.apply(chunk, s)
		}
	}

	e.logger.InfoContext(ctx, "enhancement finished",
		slog.Int("securities", len(out)),
		slog.Int("chunks", chunks),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return out, issues
}

// apply writes one correction into the matching security of the chunk.
// Unknown identifiers, unknown fields and unparseable values are dropped.
func (e *Enhancer) apply(chunk []domain.Security, s CorrectionSuggestion) {
	for i := range chunk {
		sec := &chunk[i]
		if sec.Identifier != s.Identifier {
			continue
		}
		switch s.Field {
		case "name":
			if s.NewValue == "" {
				return
			}
			old := sec.Name
			sec.Name = s.NewValue
			sec.RecordCorrection("name", old, s.NewValue, s.Reason, "reasoning_service")
		case "quantity":
			v, ok := numeric.Parse(s.NewValue)
			if !ok {
				return
			}
			old := ""
			if sec.Quantity != nil {
				old = sec.Quantity.String()
			}
			sec.Quantity = &v
			sec.RecordCorrection("quantity", old, v.String(), s.Reason, "reasoning_service")
		case "unit_price":
			v, ok := numeric.Parse(s.NewValue)
			if !ok {
				return
			}
			old := ""
			if sec.UnitPrice != nil {
				old = sec.UnitPrice.String()
			}
			sec.UnitPrice = &v
			sec.RecordCorrection("unit_price", old, v.String(), s.Reason, "reasoning_service")
		case "market_value":
			v, ok := numeric.Parse(s.NewValue)
			if !ok || v.IsNegative() {
				return
			}
			old := sec.MarketValue.String()
			sec.MarketValue = v
			sec.RecordCorrection("market_value", old, v.String(), s.Reason, "reasoning_service")
		case "currency":
			code := strings.ToUpper(strings.TrimSpace(s.NewValue))
			if len(code) != 3 {
				return
			}
			old := sec.Currency
			sec.Currency = code
			sec.RecordCorrection("currency", old, code, s.Reason, "reasoning_service")
		}
		return
	}
}

func toAssisted(securities []domain.Security) []AssistedSecurity {
	out := make([]AssistedSecurity, 0, len(securities))
	for i := range securities {
		sec := &securities[i]
		a := AssistedSecurity{
			Identifier:  sec.Identifier,
			Name:        sec.Name,
			MarketValue: sec.MarketValue.InexactFloat64(),
			Currency:    sec.Currency,
		}
		if sec.Quantity != nil {
			q := sec.Quantity.InexactFloat64()
			a.Quantity = &q
		}
		if sec.UnitPrice != nil {
			p := sec.UnitPrice.InexactFloat64()
			a.UnitPrice = &p
		}
		out = append(out, a)
	}
	return out
}
