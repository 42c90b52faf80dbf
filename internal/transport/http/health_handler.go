package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"keyserve/internal/store"
)

// HealthHandler reports service liveness and key store connectivity
type HealthHandler struct {
	store   store.Store
	version string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(s store.Store, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   s,
		version: version,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Store   string `json:"store"`
}

// Health handles GET /api/healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := &HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Store:   "ok",
	}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "store ping failed", slog.String("error", err.Error()))
		response.Status = "degraded"
		response.Store = "unavailable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response)
}
