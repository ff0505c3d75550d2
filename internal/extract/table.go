package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"portex/internal/institution"
	"portex/internal/isin"
	"portex/internal/numeric"
	"portex/pkg/contracts/domain"
)

// TableStrategyConfig tunes structured-table extraction.
type TableStrategyConfig struct {
	// BaseConfidence is the starting confidence for a row extracted from
	// a mapped table; the grid structure itself corroborates the fields.
	BaseConfidence float64
	// DefaultEngineConfidence applies when the engine reports none.
	DefaultEngineConfidence float64
	// MinHeaderFields is how many semantic columns a row must resolve to
	// count as the header row.
	MinHeaderFields int
}

// DefaultTableStrategyConfig returns the standard table settings.
func DefaultTableStrategyConfig() TableStrategyConfig {
	return TableStrategyConfig{
		BaseConfidence:          0.9,
		DefaultEngineConfidence: 0.85,
		MinHeaderFields:         2,
	}
}

// TableStrategy reads engine-supplied table grids: it locates a header
// row, maps column indices to semantic fields by keyword matching, then
// extracts one candidate per data row with a format-valid identifier.
type TableStrategy struct {
	registry   *institution.Registry
	normalizer *numeric.Normalizer
	config     TableStrategyConfig
	logger     *slog.Logger
}

// NewTableStrategy creates a table strategy over the institution registry
// (for per-institution column keywords) and a value normalizer.
func NewTableStrategy(registry *institution.Registry, normalizer *numeric.Normalizer, config TableStrategyConfig, logger *slog.Logger) *TableStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableStrategy{
		registry:   registry,
		normalizer: normalizer,
		config:     config,
		logger:     logger.With(slog.String("component", "table_strategy")),
	}
}

// Name implements Strategy.
func (s *TableStrategy) Name() string { return domain.EngineTable }

// Extract implements Strategy.
func (s *TableStrategy) Extract(ctx context.Context, result *domain.EngineResult, pc *domain.PortfolioContext) (*domain.CandidateSet, error) {
	set := &domain.CandidateSet{
		EngineName:       s.Name(),
		EngineConfidence: s.config.DefaultEngineConfidence,
	}
	if result.EngineConfidence != nil {
		set.EngineConfidence = clamp01(*result.EngineConfidence)
	}

	keywords := s.registry.ColumnKeywordsFor(pc.Institution)

	for _, table := range result.Tables {
		rows := gridRows(&table)
		headerIdx, columns := s.mapColumns(rows, keywords)
		if headerIdx < 0 {
			s.logger.DebugContext(ctx, "no header row found in table",
				slog.String("document_id", pc.DocumentID))
			continue
		}

		for _, ri := range sortedRowIndices(rows) {
			if ri <= headerIdx {
				continue
			}
			if sec, ok := s.extractRow(rows[ri], columns, pc); ok {
				set.Securities = append(set.Securities, sec)
			}
		}
	}

	s.logger.InfoContext(ctx, "table extraction finished",
		slog.String("document_id", pc.DocumentID),
		slog.Int("candidates", len(set.Securities)))
	return set, nil
}

// gridRows folds a cell list into row-indexed column maps.
func gridRows(table *domain.Table) map[int]map[int]string {
	rows := make(map[int]map[int]string)
	for _, cell := range table.Cells {
		row, ok := rows[cell.RowIndex]
		if !ok {
			row = make(map[int]string)
			rows[cell.RowIndex] = row
		}
		row[cell.ColumnIndex] = cell.Content
	}
	return rows
}

func sortedRowIndices(rows map[int]map[int]string) []int {
	out := make([]int, 0, len(rows))
	for ri := range rows {
		out = append(out, ri)
	}
	sort.Ints(out)
	return out
}

// mapColumns finds the header row and the column index of each semantic
// field. The first row resolving at least MinHeaderFields fields wins.
func (s *TableStrategy) mapColumns(rows map[int]map[int]string, keywords map[string][]string) (int, map[string]int) {
	for _, ri := range sortedRowIndices(rows) {
		columns := make(map[string]int)
		for ci, content := range rows[ri] {
			lowered := strings.ToLower(content)
			for field, words := range keywords {
				if _, taken := columns[field]; taken {
					continue
				}
				for _, w := range words {
					if strings.Contains(lowered, w) {
						columns[field] = ci
						break
					}
				}
			}
		}
		if len(columns) >= s.config.MinHeaderFields {
			if _, ok := columns["identifier"]; ok {
				return ri, columns
			}
		}
	}
	return -1, nil
}

// extractRow builds one candidate from a data row. Rows without a
// format-valid identifier are skipped.
func (s *TableStrategy) extractRow(row map[int]string, columns map[string]int, pc *domain.PortfolioContext) (domain.Security, bool) {
	rawID := strings.ToUpper(strings.TrimSpace(row[columns["identifier"]]))
	status := isin.Validate(rawID)
	if status == domain.IdentifierInvalid {
		return domain.Security{}, false
	}

	sec := domain.Security{
		Identifier:       rawID,
		IdentifierStatus: status,
		SourceEngine:     s.Name(),
		Currency:         pc.BaseCurrency,
	}

	if ci, ok := columns["name"]; ok {
		sec.Name = CleanName(row[ci])
	}
	sec.Category = Categorize(sec.Name, sec.Identifier)

	if ci, ok := columns["value"]; ok {
		if v, ok := s.normalizer.Normalize(row[ci]); ok {
			sec.MarketValue = v
		}
	}
	if ci, ok := columns["quantity"]; ok {
		if q, ok := numeric.Parse(row[ci]); ok && !q.IsNegative() {
			sec.Quantity = &q
		}
	}
	if ci, ok := columns["price"]; ok {
		if p, ok := numeric.Parse(row[ci]); ok && p.IsPositive() {
			sec.UnitPrice = &p
		}
	}
	if ci, ok := columns["currency"]; ok {
		if code := strings.ToUpper(strings.TrimSpace(row[ci])); len(code) == 3 {
			sec.Currency = code
		}
	}

	sec.Confidence = adjustForIdentifier(s.config.BaseConfidence, status)
	return sec, true
}

// CleanName normalizes a free-text security name: collapse whitespace,
// strip leading separators left over from layout extraction.
func CleanName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	name = strings.Trim(name, " -–·.,;:|/")
	return name
}
