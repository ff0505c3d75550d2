package extract

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"portex/internal/isin"
	"portex/internal/numeric"
	"portex/pkg/contracts/domain"
)

// WindowStrategyConfig tunes contextual-window extraction.
type WindowStrategyConfig struct {
	// WindowSize is the total number of characters of context taken
	// symmetrically around each identifier match.
	WindowSize int
	// BaseConfidence is the starting confidence; flat-text scanning is
	// less corroborated than a mapped table.
	BaseConfidence float64
	// DefaultEngineConfidence applies when the engine reports none.
	DefaultEngineConfidence float64
	// ProximityChars is the gap under which the proximity bonus applies.
	ProximityChars int
	// CurrencyAdjacencyChars bounds how close a currency code must sit to
	// a literal to count as adjacent for the tie-break.
	CurrencyAdjacencyChars int
	// MaxNameChars caps extracted name length.
	MaxNameChars int
}

// DefaultWindowStrategyConfig returns the standard window settings.
func DefaultWindowStrategyConfig() WindowStrategyConfig {
	return WindowStrategyConfig{
		WindowSize:              800,
		BaseConfidence:          0.75,
		DefaultEngineConfidence: 0.7,
		ProximityChars:          100,
		CurrencyAdjacencyChars:  8,
		MaxNameChars:            80,
	}
}

var (
	literalRe        = regexp.MustCompile(`[0-9][0-9'.,\x{2019}]*[0-9]|[0-9]`)
	adjacentCurrency = regexp.MustCompile(`\b[A-Z]{3}\b`)
	trailingNoise    = regexp.MustCompile(`[0-9'.,%\s]+$`)
)

// WindowStrategy scans the flat text stream for identifier-shaped
// substrings and reads name and value out of a symmetric context window
// around each match.
type WindowStrategy struct {
	normalizer *numeric.Normalizer
	config     WindowStrategyConfig
	logger     *slog.Logger
}

// NewWindowStrategy creates a contextual-window strategy.
func NewWindowStrategy(normalizer *numeric.Normalizer, config WindowStrategyConfig, logger *slog.Logger) *WindowStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowStrategy{
		normalizer: normalizer,
		config:     config,
		logger:     logger.With(slog.String("component", "window_strategy")),
	}
}

// Name implements Strategy.
func (s *WindowStrategy) Name() string { return domain.EngineWindow }

// Extract implements Strategy.
func (s *WindowStrategy) Extract(ctx context.Context, result *domain.EngineResult, pc *domain.PortfolioContext) (*domain.CandidateSet, error) {
	set := &domain.CandidateSet{
		EngineName:       s.Name(),
		EngineConfidence: s.config.DefaultEngineConfidence,
	}
	if result.EngineConfidence != nil {
		set.EngineConfidence = clamp01(*result.EngineConfidence)
	}

	text := result.Text
	byID := make(map[string]int) // identifier -> index into set.Securities

	for _, match := range isin.Find(text) {
		status := isin.Validate(match.Value)
		if status == domain.IdentifierInvalid {
			continue
		}

		sec, ok := s.extractAround(text, match, status, pc)
		if !ok {
			continue
		}

		// The same identifier can anchor several windows; keep the most
		// confident reading.
		if i, seen := byID[sec.Identifier]; seen {
			if sec.Confidence > set.Securities[i].Confidence {
				set.Securities[i] = sec
			}
			continue
		}
		byID[sec.Identifier] = len(set.Securities)
		set.Securities = append(set.Securities, sec)
	}

	s.logger.InfoContext(ctx, "window extraction finished",
		slog.String("document_id", pc.DocumentID),
		slog.Int("candidates", len(set.Securities)))
	return set, nil
}

// extractAround reads one candidate out of the context window anchored on
// an identifier match.
func (s *WindowStrategy) extractAround(text string, match isin.Match, status domain.IdentifierStatus, pc *domain.PortfolioContext) (domain.Security, bool) {
	half := s.config.WindowSize / 2
	lo := match.Index - half
	if lo < 0 {
		lo = 0
	}
	hi := match.Index + len(match.Value) + half
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]
	idStart := match.Index - lo
	idEnd := idStart + len(match.Value)

	value, valuePos, valueDist, found := s.selectValue(window, idStart, idEnd)
	if !found {
		return domain.Security{}, false
	}

	sec := domain.Security{
		Identifier:       match.Value,
		IdentifierStatus: status,
		Name:             s.nameBefore(window, idStart),
		MarketValue:      value,
		SourceEngine:     s.Name(),
		Currency:         pc.BaseCurrency,
	}
	sec.Category = Categorize(sec.Name, sec.Identifier)
	if code, ok := s.currencyNear(window, valuePos); ok {
		sec.Currency = code
	}

	confidence := adjustForIdentifier(s.config.BaseConfidence, status)
	if valueDist <= s.config.ProximityChars {
		confidence = clamp01(confidence + 0.05)
	}
	if hasContextWord(window) {
		confidence = clamp01(confidence + contextWordBonus)
	}
	sec.Confidence = confidence
	return sec, true
}

// selectValue picks the best value literal in the window: plausible
// magnitude, minimum character distance to the identifier, currency
// adjacency as the tie-break.
func (s *WindowStrategy) selectValue(window string, idStart, idEnd int) (decimal.Decimal, int, int, bool) {
	type candidate struct {
		value    decimal.Decimal
		start    int
		distance int
		adjacent bool
	}

	var best *candidate
	for _, loc := range literalRe.FindAllStringIndex(window, -1) {
		// The identifier's own digits are not a value.
		if loc[0] >= idStart && loc[0] < idEnd {
			continue
		}
		v, ok := s.normalizer.Normalize(window[loc[0]:loc[1]])
		if !ok {
			continue
		}
		c := candidate{
			value:    v,
			start:    loc[0],
			distance: gap(loc[0], loc[1], idStart, idEnd),
			adjacent: s.currencyAdjacent(window, loc[0], loc[1]),
		}
		if best == nil ||
			c.distance < best.distance ||
			(c.distance == best.distance && c.adjacent && !best.adjacent) {
			b := c
			best = &b
		}
	}
	if best == nil {
		return decimal.Zero, 0, 0, false
	}
	return best.value, best.start, best.distance, true
}

// gap is the character distance between two spans, zero when they touch.
func gap(aStart, aEnd, bStart, bEnd int) int {
	switch {
	case aStart >= bEnd:
		return aStart - bEnd
	case bStart >= aEnd:
		return bStart - aEnd
	default:
		return 0
	}
}

// currencyAdjacent reports whether a currency code sits within the
// adjacency distance of the literal span.
func (s *WindowStrategy) currencyAdjacent(window string, start, end int) bool {
	lo := start - s.config.CurrencyAdjacencyChars
	if lo < 0 {
		lo = 0
	}
	hi := end + s.config.CurrencyAdjacencyChars
	if hi > len(window) {
		hi = len(window)
	}
	_, ok := currencyCodeIn(window[lo:hi])
	return ok
}

// currencyNear returns the currency code closest to the selected literal.
func (s *WindowStrategy) currencyNear(window string, valuePos int) (string, bool) {
	lo := valuePos - 2*s.config.CurrencyAdjacencyChars
	if lo < 0 {
		lo = 0
	}
	hi := valuePos + 2*s.config.CurrencyAdjacencyChars
	if hi > len(window) {
		hi = len(window)
	}
	return currencyCodeIn(window[lo:hi])
}

// knownCurrencies filters three-letter matches down to actual codes so
// name fragments like "USD" pass but "THE" or "AND" never do.
var knownCurrencies = map[string]bool{
	"CHF": true, "USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CAD": true, "AUD": true, "SEK": true, "NOK": true, "DKK": true,
	"SGD": true, "HKD": true,
}

func currencyCodeIn(s string) (string, bool) {
	for _, m := range adjacentCurrency.FindAllString(s, -1) {
		if knownCurrencies[m] {
			return m, true
		}
	}
	return "", false
}

// nameBefore extracts a name candidate from the cleaned text immediately
// preceding the identifier.
func (s *WindowStrategy) nameBefore(window string, idStart int) string {
	before := window[:idStart]
	// Work on the last line; names do not span line breaks on statements.
	if i := strings.LastIndexAny(before, "\n\r"); i >= 0 {
		before = before[i+1:]
	}
	before = trailingNoise.ReplaceAllString(before, "")
	name := CleanName(before)
	// Trim in runes, not bytes: byte slicing could split an accented
	// character and leave invalid UTF-8 at the head of the name.
	if runes := []rune(name); len(runes) > s.config.MaxNameChars {
		name = CleanName(string(runes[len(runes)-s.config.MaxNameChars:]))
	}
	if countLetters(name) < 3 {
		return ""
	}
	return name
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			n++
		}
	}
	return n
}
