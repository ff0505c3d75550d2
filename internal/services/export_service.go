package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"portex/internal/exporter"
	apperrors "portex/internal/errors"
	"portex/internal/pipeline"
)

// Export formats accepted by ExportService.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportFile describes one file present in the exports directory.
type ExportFile struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ExportService turns finished runs into downloadable files in the
// exports directory.
type ExportService struct {
	store      pipeline.RunStore
	holdings   *exporter.HoldingsExporter
	summaries  *exporter.RunSummaryExporter
	exportsDir string
	logger     *slog.Logger
}

// NewExportService creates an export service writing into exportsDir.
func NewExportService(store pipeline.RunStore, exportsDir string, logger *slog.Logger) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportService{
		store:      store,
		holdings:   exporter.NewHoldingsExporter(exportsDir),
		summaries:  exporter.NewRunSummaryExporter(exportsDir),
		exportsDir: exportsDir,
		logger:     logger.With(slog.String("component", "export_service")),
	}
}

// ExportRun writes the holdings of a completed run in the given format and
// returns the full path of the file written.
func (s *ExportService) ExportRun(ctx context.Context, runID, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != FormatCSV && format != FormatXLSX {
		return "", apperrors.NewInputError(
			fmt.Sprintf("unsupported export format %q", format), ErrInvalidFileType)
	}

	run, err := s.store.GetRun(runID)
	if err != nil {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("run %s", runID))
	}

	if run.Status != pipeline.RunStatusCompleted || run.Response == nil {
		return "", apperrors.NewInputError(
			fmt.Sprintf("run %s has no exportable result (status %s)", runID, run.Status), nil)
	}

	var path string
	switch format {
	case FormatCSV:
		path, err = s.holdings.ExportCSV(run.ID, run.Response)
	case FormatXLSX:
		path, err = s.holdings.ExportXLSX(run.ID, run.Response)
	}
	if err != nil {
		return "", fmt.Errorf("export run %s: %w", runID, err)
	}

	s.logger.InfoContext(ctx, "run exported",
		slog.String("run_id", runID),
		slog.String("format", format),
		slog.String("path", path))

	return path, nil
}

// ExportSummary writes a cross-run summary CSV over all stored runs and
// returns the full path of the file written.
func (s *ExportService) ExportSummary(ctx context.Context) (string, error) {
	runs, err := s.store.ListRuns(pipeline.RunFilter{})
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}

	path, err := s.summaries.ExportRunSummary(runs, "runs_summary.csv")
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "run summary exported",
		slog.Int("run_count", len(runs)),
		slog.String("path", path))

	return path, nil
}

// ListExports returns the files currently present in the exports directory,
// newest first.
func (s *ExportService) ListExports(ctx context.Context) ([]ExportFile, error) {
	entries, err := os.ReadDir(s.exportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ExportFile{}, nil
		}
		return nil, fmt.Errorf("read exports directory: %w", err)
	}

	files := make([]ExportFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, ExportFile{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})

	return files, nil
}

// ResolveExport maps a requested file name onto the exports directory and
// rejects anything that escapes it.
func (s *ExportService) ResolveExport(name string) (string, error) {
	cleaned := filepath.Base(filepath.Clean(name))
	if cleaned == "." || cleaned == ".." || cleaned == string(filepath.Separator) {
		return "", apperrors.NewInputError(fmt.Sprintf("invalid export file name %q", name), nil)
	}

	full := filepath.Join(s.exportsDir, cleaned)
	if _, err := os.Stat(full); err != nil {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("export file %s", cleaned))
	}
	return full, nil
}
