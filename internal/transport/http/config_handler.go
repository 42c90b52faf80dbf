package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/services"
)

// ConfigHandler serves the public configuration links (e.g. the shortcut
// redirect target). No authentication: the links are meant for clients.
type ConfigHandler struct {
	service services.AdminService
	logger  *slog.Logger
}

// NewConfigHandler creates a new public config handler
func NewConfigHandler(service services.AdminService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "config")),
	}
}

// GetPublicConfig handles GET /api/config
func (h *ConfigHandler) GetPublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read public config",
			slog.String("error", err.Error()),
		)
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"data": map[string]string{
			services.LinkTypeShortcut:     cfg[services.LinkTypeShortcut],
			services.LinkTypeDistribution: cfg[services.LinkTypeDistribution],
		},
	})
}
