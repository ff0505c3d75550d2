package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "portex/internal/errors"
)

// contentTypes maps export formats onto download content types.
var contentTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ExportHandler serves holdings downloads for finished runs and the
// exports directory listing.
type ExportHandler struct {
	service      ExportServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(service ExportServiceInterface, logger *slog.Logger) *ExportHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ExportHandler{
		service:      service,
		errorHandler: apierrors.NewErrorHandler(logger, false),
		logger:       logger.With(slog.String("handler", "export")),
	}
}

// Routes returns a chi router for the exports listing endpoints. Per-run
// downloads hang off the extraction router instead.
func (h *ExportHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListExports)
	r.Post("/summary", h.ExportSummary)
	r.Get("/{name}", h.ServeExport)

	return r
}

// Download handles GET /api/extraction/{id}/download/{format}
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	format := chi.URLParam(r, "format")
	tracer := otel.Tracer("export-handler")

	ctx, span := tracer.Start(ctx, "export_handler.download",
		trace.WithAttributes(
			attribute.String("http.route", "/api/extraction/{id}/download/{format}"),
			attribute.String("run.id", runID),
			attribute.String("export.format", format),
		),
	)
	defer span.End()

	path, err := h.service.ExportRun(ctx, runID, format)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "serving export",
		slog.String("run_id", runID),
		slog.String("format", format),
		slog.String("path", path))

	h.serveFile(w, r, path)
}

// ListExports handles GET /api/exports
func (h *ExportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	files, err := h.service.ListExports(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

// ExportSummary handles POST /api/exports/summary. The generated file is
// listed afterwards and downloadable by name.
func (h *ExportHandler) ExportSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path, err := h.service.ExportSummary(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	name := filepath.Base(path)
	h.logger.InfoContext(ctx, "run summary generated", slog.String("file", name))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"file":         name,
		"download_url": "/api/exports/" + name,
	})
}

// ServeExport handles GET /api/exports/{name}
func (h *ExportHandler) ServeExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := h.service.ResolveExport(name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.serveFile(w, r, path)
}

// serveFile streams an export file as an attachment download.
func (h *ExportHandler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	name := filepath.Base(path)
	if ct, ok := contentTypes[filepath.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeFile(w, r, path)
}
