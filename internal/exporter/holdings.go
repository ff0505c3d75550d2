package exporter

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"portex/pkg/contracts/domain"
)

// HoldingsExporter writes a finished extraction run's holdings to disk,
// as CSV for downstream tooling or XLSX for human review.
type HoldingsExporter struct {
	exportsDir string
	csvWriter  *CSVWriter
}

// NewHoldingsExporter creates a new holdings exporter rooted at exportsDir.
func NewHoldingsExporter(exportsDir string) *HoldingsExporter {
	return &HoldingsExporter{
		exportsDir: exportsDir,
		csvWriter:  NewCSVWriter(exportsDir),
	}
}

// FileName returns the export file name for a run in the given format.
func FileName(runID, format string) string {
	return fmt.Sprintf("%s_holdings.%s", runID, format)
}

// ExportCSV writes one row per extracted security, sorted by identifier,
// followed by a portfolio total row. Returns the full path written.
func (h *HoldingsExporter) ExportCSV(runID string, resp *domain.ExtractionResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("no extraction result to export")
	}

	securities := sortedSecurities(resp.Securities)

	records := make([][]string, 0, len(securities)+1)
	for _, sec := range securities {
		records = append(records, securityToCSVRow(sec))
	}
	records = append(records, totalCSVRow(resp))

	filename := FileName(runID, "csv")
	if err := h.csvWriter.WriteSimpleCSV(filename, holdingsHeaders(), records); err != nil {
		return "", fmt.Errorf("failed to write holdings CSV for %s: %w", runID, err)
	}
	return filepath.Join(h.exportsDir, filename), nil
}

// ExportXLSX writes a workbook with a Holdings sheet and a Summary sheet
// carrying the run's quality verdict. Returns the full path written.
func (h *HoldingsExporter) ExportXLSX(runID string, resp *domain.ExtractionResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("no extraction result to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	const holdingsSheet = "Holdings"
	if err := f.SetSheetName("Sheet1", holdingsSheet); err != nil {
		return "", fmt.Errorf("failed to rename sheet: %w", err)
	}

	if err := writeRow(f, holdingsSheet, 1, holdingsHeaders()); err != nil {
		return "", err
	}
	securities := sortedSecurities(resp.Securities)
	for i, sec := range securities {
		if err := writeRow(f, holdingsSheet, i+2, securityToCSVRow(sec)); err != nil {
			return "", err
		}
	}
	if err := writeRow(f, holdingsSheet, len(securities)+2, totalCSVRow(resp)); err != nil {
		return "", err
	}

	if err := h.writeSummarySheet(f, resp); err != nil {
		return "", err
	}

	fullPath := filepath.Join(h.exportsDir, FileName(runID, "xlsx"))
	if err := f.SaveAs(fullPath); err != nil {
		return "", fmt.Errorf("failed to write holdings XLSX for %s: %w", runID, err)
	}
	return fullPath, nil
}

// writeSummarySheet adds the run-level verdict: totals, accuracy, grade,
// gate state and any validation issues.
func (h *HoldingsExporter) writeSummarySheet(f *excelize.File, resp *domain.ExtractionResponse) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	rows := [][]string{
		{"Document ID", resp.DocumentID},
		{"Institution", resp.Metadata.Institution},
		{"Document Type", string(resp.Metadata.DocumentType)},
		{"Securities", fmt.Sprintf("%d", len(resp.Securities))},
		{"Portfolio Total", formatDecimal(resp.PortfolioTotal)},
		{"Accuracy Score", formatFloatPtr(resp.AccuracyScore)},
		{"Quality Grade", string(resp.QualityGrade)},
		{"Gate State", string(resp.GateState)},
		{"Requires Human Review", formatBool(resp.RequiresHumanReview)},
		{"Processing Time (ms)", formatInt(resp.Metadata.ProcessingTimeMs)},
	}
	for i, row := range rows {
		if err := writeRow(f, sheet, i+1, row); err != nil {
			return err
		}
	}

	if len(resp.Issues) > 0 {
		base := len(rows) + 2
		if err := writeRow(f, sheet, base, []string{"Severity", "Type", "Identifier", "Message"}); err != nil {
			return err
		}
		for i, issue := range resp.Issues {
			row := []string{string(issue.Severity), issue.Type, issue.Identifier, issue.Message}
			if err := writeRow(f, sheet, base+i+1, row); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to resolve cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

// sortedSecurities returns the securities ordered by identifier so repeated
// exports of the same run are byte-identical.
func sortedSecurities(securities []domain.Security) []domain.Security {
	sorted := make([]domain.Security, len(securities))
	copy(sorted, securities)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Identifier < sorted[j].Identifier
	})
	return sorted
}

// holdingsHeaders returns the CSV/XLSX headers for extracted securities.
func holdingsHeaders() []string {
	return []string{
		"Identifier", "IdentifierStatus", "Name", "Category", "Currency",
		"Quantity", "UnitPrice", "MarketValue",
		"OriginalValue", "OriginalCurrency", "FxRate",
		"Confidence", "SourceEngine",
	}
}

// securityToCSVRow converts an extracted security to an export row.
func securityToCSVRow(sec domain.Security) []string {
	return []string{
		sec.Identifier,
		string(sec.IdentifierStatus),
		sec.Name,
		string(sec.Category),
		sec.Currency,
		formatDecimalPtr(sec.Quantity),
		formatDecimalPtr(sec.UnitPrice),
		formatDecimal(sec.MarketValue),
		formatDecimalPtr(sec.OriginalValue),
		sec.OriginalCurrency,
		formatDecimalPtr(sec.FxRate),
		formatFloat(sec.Confidence),
		sec.SourceEngine,
	}
}

// totalCSVRow is the trailing portfolio total line.
func totalCSVRow(resp *domain.ExtractionResponse) []string {
	row := make([]string, len(holdingsHeaders()))
	row[0] = "TOTAL"
	row[7] = formatDecimal(resp.PortfolioTotal)
	return row
}
