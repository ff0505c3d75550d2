package institution

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portex/internal/numeric"
	"portex/pkg/contracts/domain"
)

// ClassifierConfig tunes institution classification.
type ClassifierConfig struct {
	// MaxScanBytes caps how much of the document text is scanned for
	// signatures; statements front-load letterhead so the head suffices.
	MaxScanBytes int
	// MinSignatureMatches is the minimum number of matched patterns for a
	// row to be selected at all.
	MinSignatureMatches int
	// MinPlausibleTotal rejects "totals" that are really page numbers or
	// percentages.
	MinPlausibleTotal decimal.Decimal
	// DefaultCurrency is the base currency of last resort.
	DefaultCurrency string
}

// DefaultClassifierConfig returns the standard classification settings.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MaxScanBytes:        64 * 1024,
		MinSignatureMatches: 2,
		MinPlausibleTotal:   decimal.NewFromInt(1000),
		DefaultCurrency:     "USD",
	}
}

// Classifier scores document text against the signature registry and
// builds the per-document PortfolioContext.
type Classifier struct {
	registry *Registry
	config   ClassifierConfig
	logger   *slog.Logger
}

// NewClassifier creates a classifier over the given registry.
func NewClassifier(registry *Registry, config ClassifierConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "institution_classifier")),
	}
}

var (
	currencyRe = regexp.MustCompile(`\b(CHF|USD|EUR|GBP|JPY|CAD|AUD|SEK|NOK|DKK|SGD|HKD)\b`)
	dottedDate = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`)
	isoDate    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

// Classify builds the PortfolioContext for one document. Absence of a
// parseable total never blocks the pipeline; it only disables the accuracy
// check downstream.
func (c *Classifier) Classify(ctx context.Context, documentID, filename, text string) domain.PortfolioContext {
	scan := text
	if len(scan) > c.config.MaxScanBytes {
		scan = scan[:c.config.MaxScanBytes]
	}
	lowered := strings.ToLower(scan)

	label, sig, score := c.bestSignature(lowered)

	pc := domain.PortfolioContext{
		DocumentID:   documentID,
		Filename:     filename,
		Institution:  label,
		DocumentType: detectDocumentType(lowered),
		BaseCurrency: c.detectBaseCurrency(scan, sig),
		ReportDate:   detectReportDate(scan),
	}

	if total, ok := c.extractExpectedTotal(text, sig); ok {
		pc.ExpectedTotal = &total
	}

	attrs := []any{
		slog.String("document_id", documentID),
		slog.String("institution", pc.Institution),
		slog.Float64("signature_score", score),
		slog.String("document_type", string(pc.DocumentType)),
		slog.String("base_currency", pc.BaseCurrency),
		slog.Bool("expected_total_found", pc.ExpectedTotal != nil),
	}
	if pc.ExpectedTotal != nil {
		attrs = append(attrs, slog.String("expected_total", pc.ExpectedTotal.String()))
	}
	c.logger.InfoContext(ctx, "document classified", attrs...)

	return pc
}

// bestSignature returns the institution with the highest pattern score
// above the minimum match count, or the unknown label.
func (c *Classifier) bestSignature(lowered string) (string, *Signature, float64) {
	bestLabel := domain.InstitutionUnknown
	var bestSig *Signature
	bestScore := 0.0

	for i := range c.registry.Signatures {
		sig := &c.registry.Signatures[i]
		if len(sig.loweredPattern) == 0 {
			continue
		}
		matched := 0
		for _, p := range sig.loweredPattern {
			if strings.Contains(lowered, p) {
				matched++
			}
		}
		if matched < c.config.MinSignatureMatches {
			continue
		}
		score := float64(matched) / float64(len(sig.loweredPattern))
		if score > bestScore {
			bestScore = score
			bestLabel = sig.ID
			bestSig = sig
		}
	}
	return bestLabel, bestSig, bestScore
}

// extractExpectedTotal tries the institution's own total patterns first,
// then the generic fallbacks.
func (c *Classifier) extractExpectedTotal(text string, sig *Signature) (decimal.Decimal, bool) {
	var patterns []*regexp.Regexp
	if sig != nil {
		patterns = append(patterns, sig.compiledTotals...)
	}
	patterns = append(patterns, c.registry.compiledGenericTotals...)

	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, ok := numeric.Parse(m[1])
			if !ok {
				continue
			}
			if v.LessThan(c.config.MinPlausibleTotal) {
				continue
			}
			return v, true
		}
	}
	return decimal.Zero, false
}

func (c *Classifier) detectBaseCurrency(scan string, sig *Signature) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, m := range currencyRe.FindAllString(scan, -1) {
		counts[m]++
		if counts[m] > bestN {
			best, bestN = m, counts[m]
		}
	}
	if best != "" {
		return best
	}
	if sig != nil && sig.BaseCurrency != "" {
		return sig.BaseCurrency
	}
	return c.config.DefaultCurrency
}

func detectDocumentType(lowered string) domain.DocumentType {
	switch {
	case strings.Contains(lowered, "valuation") || strings.Contains(lowered, "bewertung") || strings.Contains(lowered, "estimation"):
		return domain.DocumentTypeValuation
	case strings.Contains(lowered, "transaction statement") || strings.Contains(lowered, "account statement") || strings.Contains(lowered, "kontoauszug"):
		return domain.DocumentTypeTransaction
	case strings.Contains(lowered, "portfolio") || strings.Contains(lowered, "depot") || strings.Contains(lowered, "holdings") || strings.Contains(lowered, "portefeuille"):
		return domain.DocumentTypeStatement
	default:
		return domain.DocumentTypeUnknown
	}
}

// detectReportDate prefers a date that follows an "as of" marker, then
// falls back to the first date in the text.
func detectReportDate(scan string) *time.Time {
	markers := []string{"as of", "per ", "au ", "zum ", "stichtag", "valuation date"}
	lowered := strings.ToLower(scan)

	tryAt := func(from int) *time.Time {
		tail := scan[from:]
		if len(tail) > 64 {
			tail = tail[:64]
		}
		if m := dottedDate.FindStringSubmatch(tail); m != nil {
			if t, err := time.Parse("02.01.2006", m[0]); err == nil {
				return &t
			}
		}
		if m := isoDate.FindStringSubmatch(tail); m != nil {
			if t, err := time.Parse("2006-01-02", m[0]); err == nil {
				return &t
			}
		}
		return nil
	}

	for _, marker := range markers {
		if i := strings.Index(lowered, marker); i >= 0 {
			if t := tryAt(i + len(marker)); t != nil {
				return t
			}
		}
	}
	return tryAt(0)
}
