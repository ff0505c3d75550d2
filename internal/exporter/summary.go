package exporter

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"portex/internal/pipeline"
)

// RunSummaryExporter writes a cross-run summary CSV, one row per run,
// for audit of what has been processed and how each run was graded.
type RunSummaryExporter struct {
	exportsDir string
	csvWriter  *CSVWriter
}

// NewRunSummaryExporter creates a new run summary exporter.
func NewRunSummaryExporter(exportsDir string) *RunSummaryExporter {
	return &RunSummaryExporter{
		exportsDir: exportsDir,
		csvWriter:  NewCSVWriter(exportsDir),
	}
}

// ExportRunSummary writes a summary CSV of the given runs, newest first.
// Returns the full path written.
func (r *RunSummaryExporter) ExportRunSummary(runs []*pipeline.Run, filename string) (string, error) {
	sorted := make([]*pipeline.Run, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var records [][]string
	for _, run := range sorted {
		records = append(records, runToCSVRow(run))
	}

	headers := []string{
		"RunID", "Filename", "Status", "CreatedAt", "DurationMs",
		"Institution", "Securities", "PortfolioTotal", "AccuracyScore",
		"QualityGrade", "GateState", "Error",
	}
	if err := r.csvWriter.WriteSimpleCSV(filename, headers, records); err != nil {
		return "", fmt.Errorf("failed to write run summary: %w", err)
	}
	return filepath.Join(r.exportsDir, filename), nil
}

// runToCSVRow converts a run to a summary row; result columns stay empty
// for runs that never completed.
func runToCSVRow(run *pipeline.Run) []string {
	var durationMs string
	if run.StartedAt != nil && run.CompletedAt != nil {
		durationMs = formatInt(run.CompletedAt.Sub(*run.StartedAt).Milliseconds())
	}

	row := []string{
		run.ID,
		run.Filename,
		string(run.Status),
		run.CreatedAt.UTC().Format(time.RFC3339),
		durationMs,
		"", "", "", "", "", "",
		run.Error,
	}

	if resp := run.Response; resp != nil {
		row[5] = resp.Metadata.Institution
		row[6] = formatInt(int64(len(resp.Securities)))
		row[7] = formatDecimal(resp.PortfolioTotal)
		row[8] = formatFloatPtr(resp.AccuracyScore)
		row[9] = string(resp.QualityGrade)
		row[10] = string(resp.GateState)
	}

	return row
}
