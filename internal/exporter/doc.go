// Package exporter writes finished extraction runs to disk for download
// and audit.
//
// CSVWriter is the shared low-level writer: headers, append mode,
// streaming, and a UTF-8 BOM so Excel opens exports correctly.
// HoldingsExporter writes a single run's extracted securities as a CSV
// with a trailing portfolio total row, or as an XLSX workbook with a
// Summary sheet carrying the quality verdict. RunSummaryExporter writes
// a cross-run summary CSV, one row per run.
//
//	holdings := exporter.NewHoldingsExporter("/path/to/exports")
//	path, err := holdings.ExportCSV(run.ID, run.Response)
package exporter
