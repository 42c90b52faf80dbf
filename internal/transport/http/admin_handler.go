package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/license"
	"keyserve/internal/middleware"
	"keyserve/internal/services"
)

// AdminHandler handles administrator key management endpoints
type AdminHandler struct {
	service  services.AdminService
	auth     *middleware.AdminAuth
	maxBatch int
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service services.AdminService, auth *middleware.AdminAuth, maxBatch int, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		auth:     auth,
		maxBatch: maxBatch,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin endpoints. GET endpoints are
// gated by the query-password middleware; POST endpoints carry the password
// in their body and verify it per handler.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	r.Post("/reset-key", h.ResetKey)
	r.Post("/batch-delete-keys", h.BatchDeleteKeys)
	r.Post("/config", h.SetConfig)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireQueryPassword)
		r.Get("/keys", h.ListKeys)
		r.Get("/stats", h.Stats)
		r.Get("/config", h.GetConfig)
	})
	return r
}

// BatchIssueRequest is the batch key generation payload. DurationMinutes is
// the diagnostic path and takes precedence over DurationDays when supplied;
// zero minutes issues an instantly expired trial key.
type BatchIssueRequest struct {
	Quantity        int    `json:"quantity" validate:"omitempty,min=1"`
	KeyType         string `json:"key_type" validate:"omitempty,oneof=permanent trial"`
	DurationDays    int    `json:"duration_days" validate:"omitempty,min=0"`
	DurationMinutes *int   `json:"duration_minutes" validate:"omitempty,min=0"`
	Password        string `json:"password" validate:"required"`
}

// BatchIssueResponse reports the generated keys
type BatchIssueResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	GeneratedKeys []string `json:"generated_keys"`
	AddedCount    int      `json:"added_count"`
}

// BatchIssue handles POST /api/keys/batch
func (h *AdminHandler) BatchIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &BatchIssueRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidationFailed)
		return
	}
	if !h.auth.Verify(req.Password) {
		renderAPIError(w, r, apperrors.ErrUnauthorized)
		return
	}

	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity > h.maxBatch {
		renderAPIError(w, r, apperrors.ErrValidation("quantity",
			fmt.Sprintf("quantity exceeds maximum of %d", h.maxBatch)))
		return
	}
	keyType := license.KeyType(req.KeyType)
	if req.KeyType == "" {
		keyType = license.KeyTypePermanent
	}

	result, err := h.service.IssueBatch(ctx, req.Quantity, keyType, license.ExpiryPolicy{
		DurationDays:    req.DurationDays,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "batch issuance failed",
			slog.String("key_type", string(keyType)),
			slog.Int("quantity", req.Quantity),
			slog.String("error", err.Error()),
		)
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, &BatchIssueResponse{
		Success:       true,
		Message:       fmt.Sprintf("Generated and added %d keys", result.AddedCount),
		GeneratedKeys: result.GeneratedKeys,
		AddedCount:    result.AddedCount,
	})
}

// VerifyRequest is the admin password verification payload
type VerifyRequest struct {
	Password string `json:"password" validate:"required"`
}

// Verify handles POST /api/admin/verify
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req := &VerifyRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if !h.auth.Verify(req.Password) {
		renderAPIError(w, r, apperrors.ErrUnauthorized)
		return
	}
	render.JSON(w, r, messageResponse{Success: true, Message: "Password verified"})
}

// ResetKeyRequest is the key reset payload
type ResetKeyRequest struct {
	KeyValue string `json:"key_value" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

// ResetKey handles POST /api/admin/reset-key. The key returns to unused and
// its identity binding is released, starting a fresh activation cycle.
func (h *AdminHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ResetKeyRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidation("key_value", "key_value is required"))
		return
	}
	if !h.auth.Verify(req.Password) {
		renderAPIError(w, r, apperrors.ErrUnauthorized)
		return
	}

	if err := h.service.Reset(ctx, req.KeyValue); err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, messageResponse{
		Success: true,
		Message: fmt.Sprintf("Key %s reset to unused", req.KeyValue),
	})
}

// BatchDeleteRequest is the batch deletion payload
type BatchDeleteRequest struct {
	KeyValues []string `json:"key_values" validate:"required,min=1,dive,max=64"`
	Password  string   `json:"password" validate:"required"`
}

// BatchDeleteResponse reports how many keys were removed
type BatchDeleteResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

// BatchDeleteKeys handles POST /api/admin/batch-delete-keys. Deletion is
// idempotent: keys that no longer exist are not an error.
func (h *AdminHandler) BatchDeleteKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &BatchDeleteRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidation("key_values", "at least one key value is required"))
		return
	}
	if !h.auth.Verify(req.Password) {
		renderAPIError(w, r, apperrors.ErrUnauthorized)
		return
	}

	removed, err := h.service.BatchDelete(ctx, req.KeyValues)
	if err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, &BatchDeleteResponse{
		Success:      true,
		Message:      fmt.Sprintf("Deleted %d keys", removed),
		DeletedCount: removed,
	})
}

// KeyRecordView is the serialized key record for the admin listing
type KeyRecordView struct {
	KeyValue         string     `json:"key_value"`
	KeyType          string     `json:"key_type"`
	ValidationStatus string     `json:"validation_status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
}

// ListKeysResponse is the key listing envelope
type ListKeysResponse struct {
	Success bool            `json:"success"`
	Keys    []KeyRecordView `json:"keys"`
	Count   int             `json:"count"`
}

// ListKeys handles GET /api/admin/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListKeys(r.Context())
	if err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}

	views := make([]KeyRecordView, len(records))
	for i, record := range records {
		views[i] = KeyRecordView{
			KeyValue:         record.KeyValue,
			KeyType:          string(record.KeyType),
			ValidationStatus: string(record.ValidationStatus),
			CreatedAt:        record.CreatedAt,
			ExpiresAt:        record.ExpiresAt,
			ActivatedAt:      record.ActivatedAt,
			UserID:           record.UserID,
		}
	}
	render.JSON(w, r, &ListKeysResponse{Success: true, Keys: views, Count: len(views)})
}

// StatsResponse is the key namespace summary envelope
type StatsResponse struct {
	Success bool              `json:"success"`
	Data    *license.KeyStats `json:"data"`
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, &StatsResponse{Success: true, Data: stats})
}

// GetConfig handles GET /api/admin/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, map[string]interface{}{"success": true, "data": cfg})
}

// SetConfigRequest is the config link update payload
type SetConfigRequest struct {
	LinkType string `json:"link_type" validate:"required"`
	URL      string `json:"url" validate:"required,url"`
	Password string `json:"password" validate:"required"`
}

// SetConfig handles POST /api/admin/config
func (h *AdminHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &SetConfigRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidation("url", "link_type and a valid url are required"))
		return
	}
	if !h.auth.Verify(req.Password) {
		renderAPIError(w, r, apperrors.ErrUnauthorized)
		return
	}

	if err := h.service.SetConfigLink(ctx, req.LinkType, req.URL); err != nil {
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}
	render.JSON(w, r, messageResponse{Success: true, Message: "Config saved"})
}

// messageResponse is the minimal success envelope
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
