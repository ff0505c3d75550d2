package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"portex/internal/institution"
)

// InstitutionInfo is one registry row as exposed over the API. Patterns
// stay internal; clients only need to know which institutions are
// recognized and what they report in.
type InstitutionInfo struct {
	ID           string `json:"id"`
	BaseCurrency string `json:"base_currency,omitempty"`
	Signatures   int    `json:"signatures"`
}

// InstitutionHandler serves the institution signature registry. The
// registry is loaded once at startup and read-only, so the handler
// holds it directly instead of going through a service.
type InstitutionHandler struct {
	registry *institution.Registry
	logger   *slog.Logger
}

// NewInstitutionHandler creates a new institution handler
func NewInstitutionHandler(registry *institution.Registry, logger *slog.Logger) *InstitutionHandler {
	if registry == nil {
		panic("registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &InstitutionHandler{
		registry: registry,
		logger:   logger.With(slog.String("handler", "institution")),
	}
}

// List handles GET /api/institutions
func (h *InstitutionHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := make([]InstitutionInfo, 0, len(h.registry.Signatures))
	for i := range h.registry.Signatures {
		sig := &h.registry.Signatures[i]
		infos = append(infos, InstitutionInfo{
			ID:           sig.ID,
			BaseCurrency: sig.BaseCurrency,
			Signatures:   len(sig.Patterns),
		})
	}

	render.JSON(w, r, map[string]interface{}{
		"institutions": infos,
		"count":        len(infos),
	})
}
