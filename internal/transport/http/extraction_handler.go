package http

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "portex/internal/errors"
	"portex/internal/infrastructure"
	"portex/internal/middleware"
	"portex/internal/pipeline"
	"portex/pkg/contracts/domain"
)

// ExtractionHandler handles extraction run HTTP requests
type ExtractionHandler struct {
	service      ExtractionServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	metrics      *infrastructure.BusinessMetrics
	query        *middleware.QueryParamValidator
	runTimeout   time.Duration
	exports      *ExportHandler
}

// NewExtractionHandler creates a new extraction handler
func NewExtractionHandler(service ExtractionServiceInterface, runTimeout time.Duration, logger *slog.Logger) *ExtractionHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}

	errorHandler := apierrors.NewErrorHandler(logger, false)
	return &ExtractionHandler{
		service:      service,
		errorHandler: errorHandler,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		logger:       logger.With(slog.String("handler", "extraction")),
		runTimeout:   runTimeout,
	}
}

// SetMetrics sets the business metrics for the handler
func (h *ExtractionHandler) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	h.metrics = metrics
}

// SetExportHandler enables the per-run download route.
func (h *ExtractionHandler) SetExportHandler(exports *ExportHandler) {
	h.exports = exports
}

// ExtractRequest is the request body for starting a run. Exactly one of
// document_base64 and document_text must carry the document.
type ExtractRequest struct {
	DocumentBase64 string `json:"document_base64,omitempty"`
	DocumentText   string `json:"document_text,omitempty"`
	Filename       string `json:"filename"`

	PreferredEngines  []string `json:"preferred_engines,omitempty"`
	AccuracyThreshold *float64 `json:"accuracy_threshold,omitempty"`

	// decoded during Bind
	documentBytes []byte
}

// Bind implements the render.Binder interface for request validation
func (req *ExtractRequest) Bind(r *http.Request) error {
	if req.Filename == "" {
		return errors.New("filename is required")
	}
	if len(req.Filename) > 255 {
		return errors.New("filename exceeds 255 characters")
	}

	if req.DocumentBase64 == "" && req.DocumentText == "" {
		return errors.New("one of document_base64 or document_text is required")
	}
	if req.DocumentBase64 != "" && req.DocumentText != "" {
		return errors.New("document_base64 and document_text are mutually exclusive")
	}

	if req.DocumentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.DocumentBase64)
		if err != nil {
			return fmt.Errorf("document_base64 is not valid base64: %w", err)
		}
		req.documentBytes = decoded
	}

	validEngines := map[string]bool{
		domain.EngineTable:    true,
		domain.EngineWindow:   true,
		domain.EngineAssisted: true,
	}
	for _, e := range req.PreferredEngines {
		if !validEngines[e] {
			return fmt.Errorf("unknown engine: %s", e)
		}
	}

	if req.AccuracyThreshold != nil {
		if *req.AccuracyThreshold < 0 || *req.AccuracyThreshold > 1 {
			return fmt.Errorf("accuracy_threshold must be in [0,1]: %f", *req.AccuracyThreshold)
		}
	}

	return nil
}

// maxMultipartMemory bounds how much of a form upload stays in memory
// before spilling to temp files.
const maxMultipartMemory = 32 << 20

// fromMultipart fills the request from a multipart form upload: the
// document travels as the "document" file part, the filename comes from
// the "filename" field or falls back to the part's own filename.
func (req *ExtractRequest) fromMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		return errors.New("multipart file field \"document\" is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read uploaded document: %w", err)
	}
	if len(content) == 0 {
		return errors.New("uploaded document is empty")
	}
	req.documentBytes = content

	req.Filename = r.FormValue("filename")
	if req.Filename == "" {
		req.Filename = header.Filename
	}
	if req.Filename == "" {
		return errors.New("filename is required")
	}
	if len(req.Filename) > 255 {
		return errors.New("filename exceeds 255 characters")
	}
	return nil
}

// toDomain converts the wire request into the domain contract.
func (req *ExtractRequest) toDomain() *domain.ExtractionRequest {
	return &domain.ExtractionRequest{
		DocumentBytes: req.documentBytes,
		DocumentText:  req.DocumentText,
		Filename:      req.Filename,
		Options: domain.ExtractionOptions{
			PreferredEngines:  req.PreferredEngines,
			AccuracyThreshold: req.AccuracyThreshold,
		},
	}
}

// Routes returns a chi router for extraction endpoints
func (h *ExtractionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.StartExtraction)
	r.Get("/", h.ListRuns)
	r.Get("/{id}", h.GetRun)
	r.Delete("/{id}", h.DeleteRun)

	if h.exports != nil {
		r.Get("/{id}/download/{format}", h.exports.Download)
	}

	return r
}

// StartExtraction handles POST /api/extraction. With ?async=true the run
// is detached and a 202 with a poll URL is returned; otherwise the
// response carries the full extraction result.
func (h *ExtractionHandler) StartExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("extraction-handler")

	ctx, span := tracer.Start(ctx, "extraction_handler.start",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/extraction"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &ExtractRequest{}
	var bindErr error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		bindErr = data.fromMultipart(r)
	} else {
		bindErr = render.Bind(r, data)
	}
	if err := bindErr; err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_validation"))

		h.logger.ErrorContext(ctx, "failed to bind extraction request",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID))

		problem := apierrors.NewProblemDetails(
			http.StatusBadRequest,
			apierrors.TypeValidation,
			"Validation Failed",
			err.Error(),
			r.URL.Path+"#"+reqID,
		).WithExtension("trace_id", infrastructure.TraceIDFromContext(ctx))

		render.Render(w, r, problem)
		return
	}

	span.SetAttributes(
		attribute.String("document.filename", data.Filename),
		attribute.Int("document.bytes", len(data.documentBytes)),
		attribute.Bool("document.text_supplied", data.DocumentText != ""),
	)

	h.logger.InfoContext(ctx, "extraction request",
		slog.String("request_id", reqID),
		slog.String("filename", data.Filename),
		slog.Int("document_bytes", len(data.documentBytes)))

	if h.metrics != nil && len(data.documentBytes) > 0 {
		h.metrics.BytesProcessed.Add(ctx, int64(len(data.documentBytes)))
	}

	if r.URL.Query().Get("async") == "true" {
		run, err := h.service.Submit(ctx, data.toDomain())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit failed")
			h.errorHandler.HandleError(w, r, err)
			return
		}

		span.SetAttributes(attribute.String("run.id", run.ID))
		h.logger.InfoContext(ctx, "run submitted",
			slog.String("run_id", run.ID),
			slog.String("request_id", reqID))

		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]interface{}{
			"run_id":   run.ID,
			"status":   run.Status,
			"poll_url": "/api/extraction/" + run.ID,
		})
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, h.runTimeout)
	defer cancel()

	start := time.Now()
	resp, err := h.service.Extract(runCtx, data.toDomain())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("run.id", resp.DocumentID),
		attribute.String("run.gate_state", string(resp.GateState)),
		attribute.Int("run.securities", len(resp.Securities)),
		attribute.Float64("run.duration_ms", float64(time.Since(start).Milliseconds())),
	)

	h.logger.InfoContext(ctx, "extraction completed",
		slog.String("run_id", resp.DocumentID),
		slog.String("gate_state", string(resp.GateState)),
		slog.Int("securities", len(resp.Securities)),
		slog.String("request_id", reqID))

	render.JSON(w, r, resp)
}

// GetRun handles GET /api/extraction/{id}
func (h *ExtractionHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	tracer := otel.Tracer("extraction-handler")

	ctx, span := tracer.Start(ctx, "extraction_handler.get_run",
		trace.WithAttributes(
			attribute.String("http.route", "/api/extraction/{id}"),
			attribute.String("run.id", runID),
		),
	)
	defer span.End()

	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("run.status", string(run.Status)))

	response := map[string]interface{}{
		"id":         run.ID,
		"filename":   run.Filename,
		"status":     run.Status,
		"created_at": run.CreatedAt,
	}
	if run.StartedAt != nil {
		response["started_at"] = run.StartedAt
	}
	if run.CompletedAt != nil {
		response["completed_at"] = run.CompletedAt
		if run.StartedAt != nil {
			response["duration"] = run.CompletedAt.Sub(*run.StartedAt).String()
		}
	}
	if run.Error != "" {
		response["error"] = run.Error
	}
	if run.Response != nil {
		response["result"] = run.Response
	}

	switch run.Status {
	case pipeline.RunStatusPending, pipeline.RunStatusRunning:
		response["poll_after"] = "2s"
		response["is_complete"] = false
	default:
		response["is_complete"] = true
	}

	render.JSON(w, r, response)
}

// ListRuns handles GET /api/extraction
func (h *ExtractionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("extraction-handler")

	ctx, span := tracer.Start(ctx, "extraction_handler.list_runs",
		trace.WithAttributes(attribute.String("http.route", "/api/extraction")),
	)
	defer span.End()

	filter := pipeline.RunFilter{}

	status, ok := h.query.ValidateEnum(w, r, "status",
		[]string{"pending", "running", "completed", "failed"}, "")
	if !ok {
		return
	}
	if status != "" {
		filter.Status = pipeline.RunStatus(status)
		span.SetAttributes(attribute.String("filter.status", status))
	}

	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 1000, 0)
	if !ok {
		return
	}
	if limit > 0 {
		filter.Limit = limit
		span.SetAttributes(attribute.Int("filter.limit", limit))
	}

	runs, err := h.service.ListRuns(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list runs failed")
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Int("runs.count", len(runs)))

	runList := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		entry := map[string]interface{}{
			"id":         run.ID,
			"filename":   run.Filename,
			"status":     run.Status,
			"created_at": run.CreatedAt,
		}
		if run.CompletedAt != nil {
			entry["completed_at"] = run.CompletedAt
		}
		if run.Error != "" {
			entry["error"] = run.Error
		}
		if run.Response != nil {
			entry["gate_state"] = run.Response.GateState
			entry["securities"] = len(run.Response.Securities)
		}
		runList[i] = entry
	}

	render.JSON(w, r, map[string]interface{}{
		"runs":  runList,
		"count": len(runList),
	})
}

// DeleteRun handles DELETE /api/extraction/{id}
func (h *ExtractionHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	tracer := otel.Tracer("extraction-handler")

	ctx, span := tracer.Start(ctx, "extraction_handler.delete_run",
		trace.WithAttributes(
			attribute.String("http.route", "/api/extraction/{id}"),
			attribute.String("run.id", runID),
		),
	)
	defer span.End()

	if err := h.service.DeleteRun(ctx, runID); err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "run deleted", slog.String("run_id", runID))
	w.WriteHeader(http.StatusNoContent)
}
