package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "portex/internal/errors"
	"portex/internal/services"
)

// mockExportService implements ExportServiceInterface for handler tests.
type mockExportService struct {
	exportRunFunc     func(ctx context.Context, runID, format string) (string, error)
	exportSummaryFunc func(ctx context.Context) (string, error)
	listExportsFunc   func(ctx context.Context) ([]services.ExportFile, error)
	resolveExportFunc func(name string) (string, error)
}

func (m *mockExportService) ExportRun(ctx context.Context, runID, format string) (string, error) {
	return m.exportRunFunc(ctx, runID, format)
}

func (m *mockExportService) ExportSummary(ctx context.Context) (string, error) {
	return m.exportSummaryFunc(ctx)
}

func (m *mockExportService) ListExports(ctx context.Context) ([]services.ExportFile, error) {
	return m.listExportsFunc(ctx)
}

func (m *mockExportService) ResolveExport(name string) (string, error) {
	return m.resolveExportFunc(name)
}

func writeExportFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newExportTestRouter(svc ExportServiceInterface) chi.Router {
	handler := NewExportHandler(svc, nil)
	r := chi.NewRouter()
	r.Mount("/api/exports", handler.Routes())
	r.Get("/api/extraction/{id}/download/{format}", handler.Download)
	return r
}

func TestDownloadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeExportFixture(t, dir, "run-1_holdings.csv", "Identifier,MarketValue\nXS2530201644,1991980.00\n")

	svc := &mockExportService{
		exportRunFunc: func(ctx context.Context, runID, format string) (string, error) {
			assert.Equal(t, "run-1", runID)
			assert.Equal(t, "csv", format)
			return path, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/extraction/run-1/download/csv", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="run-1_holdings.csv"`)
	assert.Contains(t, rec.Body.String(), "XS2530201644")
}

func TestDownloadRunNotFound(t *testing.T) {
	svc := &mockExportService{
		exportRunFunc: func(ctx context.Context, runID, format string) (string, error) {
			return "", apperrors.NewNotFoundError(fmt.Sprintf("run %s", runID))
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/extraction/missing/download/csv", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadUnsupportedFormat(t *testing.T) {
	svc := &mockExportService{
		exportRunFunc: func(ctx context.Context, runID, format string) (string, error) {
			return "", apperrors.NewInputError(fmt.Sprintf("unsupported export format %q", format), nil)
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/extraction/run-1/download/pdf", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExports(t *testing.T) {
	svc := &mockExportService{
		listExportsFunc: func(ctx context.Context) ([]services.ExportFile, error) {
			return []services.ExportFile{
				{Name: "run-1_holdings.csv", SizeBytes: 128, ModifiedAt: time.Now()},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/exports", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
}

func TestExportSummaryEndpoint(t *testing.T) {
	svc := &mockExportService{
		exportSummaryFunc: func(ctx context.Context) (string, error) {
			return "/exports/runs_summary.csv", nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/exports/summary", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "runs_summary.csv", body["file"])
	assert.Equal(t, "/api/exports/runs_summary.csv", body["download_url"])
}

func TestServeExportByName(t *testing.T) {
	dir := t.TempDir()
	path := writeExportFixture(t, dir, "runs_summary.csv", "RunID,Status\nrun-1,completed\n")

	svc := &mockExportService{
		resolveExportFunc: func(name string) (string, error) {
			if name != "runs_summary.csv" {
				return "", apperrors.NewNotFoundError(fmt.Sprintf("export file %s", name))
			}
			return path, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/exports/runs_summary.csv", nil)
	rec := httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")

	req = httptest.NewRequest(http.MethodGet, "/api/exports/missing.csv", nil)
	rec = httptest.NewRecorder()
	newExportTestRouter(svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
