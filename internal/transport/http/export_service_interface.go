package http

import (
	"context"

	"portex/internal/services"
)

// ExportServiceInterface defines the export service contract used by the
// HTTP layer.
type ExportServiceInterface interface {
	// ExportRun writes a completed run's holdings in the given format and
	// returns the full path of the file written.
	ExportRun(ctx context.Context, runID, format string) (string, error)

	// ExportSummary writes a cross-run summary CSV and returns its path.
	ExportSummary(ctx context.Context) (string, error)

	// ListExports returns the files present in the exports directory.
	ListExports(ctx context.Context) ([]services.ExportFile, error)

	// ResolveExport maps an export file name onto the exports directory.
	ResolveExport(name string) (string, error)
}
