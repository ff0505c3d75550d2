package errors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/render"

	"portex/internal/infrastructure"
)

// Problem type URIs.
const (
	TypeValidation     = "/errors/validation"
	TypeNotFound       = "/errors/not-found"
	TypeRateLimit      = "/errors/rate-limit"
	TypeInternal       = "/errors/internal"
	TypeServiceDown    = "/errors/service-unavailable"
	TypeTimeout        = "/errors/timeout"
	TypeUnsupported    = "/errors/unsupported-media-type"
	TypeTooLarge       = "/errors/payload-too-large"
	TypeConflict       = "/errors/conflict"

	TypeDocumentUnreadable = "/errors/document/unreadable"
	TypeRunNotFound        = "/errors/run/not-found"
	TypeEngineUnavailable  = "/errors/engine/unavailable"
)

// ErrorHandler turns any error into an RFC 7807 response and logs it
// with request context. Stack traces are attached only when enabled,
// which production configuration never does.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError logs err and writes its problem document.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	h.logger.ErrorContext(ctx, "request failed",
		slog.String("error", err.Error()),
		slog.String("trace_id", traceID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	problem := h.toProblem(err, r).WithExtension("trace_id", traceID)
	if h.includeStack {
		problem.WithExtension("stack", stackTrace())
	}
	if problem.Status >= http.StatusInternalServerError {
		if m := infrastructure.MetricsFromContext(ctx); m != nil {
			m.SystemErrors.Add(ctx, 1)
		}
	}
	render.Render(w, r, problem)
}

// toProblem maps the error taxonomy onto problem documents. Order
// matters: context errors first (a cancelled request often wraps other
// failures), then the typed errors, then a generic 500.
func (h *ErrorHandler) toProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "the request took too long and was cancelled", r.URL.Path)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiProblem(apiErr, r)
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appProblem(appErr, r)
	}

	return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "an unexpected error occurred", r.URL.Path)
}

// appProblem maps the domain taxonomy. Input errors are the caller's
// fault; engine outages map to 502 so clients can tell the two apart.
func appProblem(appErr *AppError, r *http.Request) *ProblemDetails {
	var problem *ProblemDetails
	switch appErr.Type {
	case ErrTypeInput:
		problem = NewProblemDetails(http.StatusBadRequest, TypeDocumentUnreadable,
			"Document Unreadable", appErr.Message, r.URL.Path)
	case ErrTypeEngine:
		problem = NewProblemDetails(http.StatusBadGateway, TypeEngineUnavailable,
			"Extraction Engine Unavailable", appErr.Message, r.URL.Path)
	case ErrTypeNotFound:
		problem = NewProblemDetails(http.StatusNotFound, TypeNotFound,
			"Resource Not Found", appErr.Message, r.URL.Path)
	case ErrTypeValidation:
		problem = NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Validation Failed", appErr.Message, r.URL.Path)
	case ErrTypeConflict:
		problem = NewProblemDetails(http.StatusConflict, TypeConflict,
			"Conflict", appErr.Message, r.URL.Path)
	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", appErr.Message, r.URL.Path)
	}

	for k, v := range appErr.Context {
		problem.WithExtension(k, v)
	}
	return problem
}

func apiProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST", "MISSING_CONTENT_TYPE":
		problemType = TypeValidation
	case "NOT_FOUND", "RUN_NOT_FOUND":
		problemType = TypeNotFound
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	case "UNSUPPORTED_MEDIA_TYPE":
		problemType = TypeUnsupported
	case "PAYLOAD_TOO_LARGE":
		problemType = TypeTooLarge
	}

	problem := NewProblemDetails(apiErr.StatusCode, problemType,
		http.StatusText(apiErr.StatusCode), apiErr.Message, r.URL.Path).
		WithExtension("error_code", apiErr.ErrorCode)
	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic logs a recovered panic with its stack and answers 500.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())))

	problem := NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "an unexpected error occurred", r.URL.Path).
		WithExtension("trace_id", traceID)
	if h.includeStack {
		problem.WithExtension("stack", stackTrace())
	}
	render.Render(w, r, problem)
}

// NotFound answers unmatched routes; wired as the router's 404 handler.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, NewProblemDetails(http.StatusNotFound, TypeNotFound,
		"Not Found", "the requested resource was not found", r.URL.Path).
		WithExtension("trace_id", infrastructure.GetTraceID(r.Context())))
}

// MethodNotAllowed answers requests with an unsupported verb.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, NewProblemDetails(http.StatusMethodNotAllowed, TypeInternal,
		"Method Not Allowed", r.Method+" is not allowed for this endpoint", r.URL.Path).
		WithExtension("trace_id", infrastructure.GetTraceID(r.Context())))
}

func stackTrace() string {
	buf := make([]byte, 8*1024)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
