package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"portex/internal/errors"
	"portex/internal/infrastructure"
)

// ClientLogHandler forwards browser-side log entries into the server's
// structured log so frontend failures land next to backend ones.
type ClientLogHandler struct {
	logger *slog.Logger
}

func NewClientLogHandler(logger *slog.Logger) *ClientLogHandler {
	return &ClientLogHandler{
		logger: logger.With(slog.String("handler", "client_log")),
	}
}

// LogRequest is one client log entry.
type LogRequest struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Source  string                 `json:"source,omitempty"`
}

func (req *LogRequest) slogLevel() slog.Level {
	// Unknown levels degrade to info rather than rejecting the entry;
	// a log endpoint that drops logs is worse than a noisy one.
	return infrastructure.ParseLogLevel(req.Level)
}

// Handle accepts POST /api/logs.
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.NewValidationError("Invalid request format"))
		return
	}

	attrs := []slog.Attr{slog.String("client_source", req.Source)}
	if req.Data != nil {
		attrs = append(attrs, slog.Any("data", req.Data))
	}

	h.logger.LogAttrs(r.Context(), req.slogLevel(), req.Message, attrs...)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
