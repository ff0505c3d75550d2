package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "portex/internal/errors"
	"portex/internal/pipeline"
	"portex/pkg/contracts/domain"
)

func completedRun(t *testing.T, store pipeline.RunStore, id string) *pipeline.Run {
	t.Helper()

	accuracy := 0.9998
	run := pipeline.NewRun(id, "statement.pdf")
	run.Start()
	run.Complete(&domain.ExtractionResponse{
		Success:    true,
		DocumentID: "doc-" + id,
		Securities: []domain.Security{
			{
				Identifier:       "XS2530201644",
				IdentifierStatus: domain.IdentifierVerified,
				Name:             "TORONTO DOMINION BANK NOTES",
				MarketValue:      decimal.NewFromFloat(1991980),
				Currency:         "USD",
				Category:         domain.CategoryBond,
				Confidence:       0.95,
				SourceEngine:     "window",
			},
		},
		PortfolioTotal: decimal.NewFromFloat(1991980),
		AccuracyScore:  &accuracy,
		QualityGrade:   domain.GradeAPlus,
		GateState:      domain.GatePassed,
		Metadata:       domain.ExtractionMetadata{Institution: "ubs"},
	})
	require.NoError(t, store.CreateRun(run))
	return run
}

func newTestExportService(t *testing.T) (*ExportService, *pipeline.MemoryRunStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := pipeline.NewMemoryRunStore()
	return NewExportService(store, dir, nil), store, dir
}

func TestExportRunCSV(t *testing.T) {
	svc, store, dir := newTestExportService(t)
	completedRun(t, store, "run-1")

	path, err := svc.ExportRun(context.Background(), "run-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1_holdings.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "XS2530201644")
}

func TestExportRunXLSX(t *testing.T) {
	svc, store, _ := newTestExportService(t)
	completedRun(t, store, "run-1")

	path, err := svc.ExportRun(context.Background(), "run-1", "xlsx")
	require.NoError(t, err)
	assert.Contains(t, path, "run-1_holdings.xlsx")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestExportRunUnsupportedFormat(t *testing.T) {
	svc, store, _ := newTestExportService(t)
	completedRun(t, store, "run-1")

	_, err := svc.ExportRun(context.Background(), "run-1", "pdf")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInput))
}

func TestExportRunNotFound(t *testing.T) {
	svc, _, _ := newTestExportService(t)

	_, err := svc.ExportRun(context.Background(), "missing", "csv")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestExportRunNotCompleted(t *testing.T) {
	svc, store, _ := newTestExportService(t)
	require.NoError(t, store.CreateRun(pipeline.NewRun("pending-run", "statement.pdf")))

	_, err := svc.ExportRun(context.Background(), "pending-run", "csv")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInput))
}

func TestExportSummary(t *testing.T) {
	svc, store, dir := newTestExportService(t)
	completedRun(t, store, "run-1")
	completedRun(t, store, "run-2")

	path, err := svc.ExportSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "runs_summary.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run-1")
	assert.Contains(t, string(data), "run-2")
}

func TestListExports(t *testing.T) {
	svc, store, _ := newTestExportService(t)

	files, err := svc.ListExports(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)

	completedRun(t, store, "run-1")
	_, err = svc.ExportRun(context.Background(), "run-1", "csv")
	require.NoError(t, err)

	files, err = svc.ListExports(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "run-1_holdings.csv", files[0].Name)
	assert.Greater(t, files[0].SizeBytes, int64(0))
}

func TestResolveExport(t *testing.T) {
	svc, store, dir := newTestExportService(t)
	completedRun(t, store, "run-1")
	_, err := svc.ExportRun(context.Background(), "run-1", "csv")
	require.NoError(t, err)

	path, err := svc.ResolveExport("run-1_holdings.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1_holdings.csv"), path)

	_, err = svc.ResolveExport("missing.csv")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	// Path traversal collapses to the base name, which does not exist.
	_, err = svc.ResolveExport("../../etc/passwd")
	assert.Error(t, err)
}
