package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/license"
	"keyserve/internal/middleware"
	"keyserve/internal/services"
)

// KeysHandler handles the public key activation endpoints
type KeysHandler struct {
	service  services.KeyService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewKeysHandler creates a new keys handler
func NewKeysHandler(service services.KeyService, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "keys")),
	}
}

// Routes returns a chi router for the public key endpoints
func (h *KeysHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Activate)
	r.Post("/check-trial-status", h.CheckStatus)
	return r
}

// ActivateKeyRequest is the activation request payload. The identity token is
// optional: the plain web flow omits it, the shortcut flow supplies it.
type ActivateKeyRequest struct {
	Key             string `json:"key" validate:"required,max=64"`
	AnonymousUserID string `json:"anonymous_user_id" validate:"omitempty,max=128"`
}

// ActivateKeyResponse is the activation response envelope
type ActivateKeyResponse struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Data    *license.ActivationResult  `json:"data,omitempty"`
}

// Activate handles POST /api/keys/validate
func (h *KeysHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("keys-handler")

	ctx, span := tracer.Start(ctx, "keys_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/keys/validate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	req := &ActivateKeyRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode activation request",
			slog.String("error", err.Error()),
		)
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidation("key", "key is required"))
		return
	}
	if !isValidKeyFormat(req.Key) {
		renderAPIError(w, r, apperrors.MapKeyError(apperrors.ErrInvalidKeyFormat))
		return
	}

	span.SetAttributes(
		attribute.String("key.masked", maskKey(req.Key)),
		attribute.Bool("identity.present", req.AnonymousUserID != ""),
	)

	result, err := h.service.Activate(ctx, req.Key, req.AnonymousUserID)
	if err != nil {
		span.RecordError(err)
		h.logger.InfoContext(ctx, "activation refused",
			slog.String("key", maskKey(req.Key)),
			slog.String("error", err.Error()),
		)
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}

	span.SetAttributes(attribute.String("activation.status", string(result.ValidationStatus)))
	render.JSON(w, r, &ActivateKeyResponse{
		Success: true,
		Message: "Key activated successfully",
		Data:    result,
	})
}

// CheckStatusRequest is the quick-status request payload
type CheckStatusRequest struct {
	Key string `json:"key" validate:"required,max=64"`
}

// CheckStatusResponse is the quick-status response envelope
type CheckStatusResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    *license.StatusResult `json:"data,omitempty"`
}

// CheckStatus handles POST /api/keys/check-trial-status. It never mutates
// key state; clients poll it to learn whether their key is still usable.
func (h *KeysHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &CheckStatusRequest{}
	if err := render.DecodeJSON(r.Body, req); err != nil {
		renderAPIError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if err := h.validate.Struct(req); err != nil {
		renderAPIError(w, r, apperrors.ErrValidation("key", "key is required"))
		return
	}

	result, err := h.service.CheckStatus(ctx, req.Key)
	if err != nil {
		h.logger.ErrorContext(ctx, "status check failed",
			slog.String("key", maskKey(req.Key)),
			slog.String("error", err.Error()),
		)
		renderAPIError(w, r, apperrors.MapKeyError(err))
		return
	}

	message := "Key status retrieved"
	switch result.Status {
	case license.StatusNotFound:
		message = "Key does not exist or is invalid"
	case license.StatusTrialExpired:
		message = "Trial key has expired. Please purchase a permanent key"
	case license.StatusInvalid:
		message = "Key state is abnormal, please re-activate"
	}
	render.JSON(w, r, &CheckStatusResponse{
		Success: result.Status == license.StatusPermanent || result.Status == license.StatusTrialActive,
		Message: message,
		Data:    result,
	})
}

// isValidKeyFormat checks the issued key shape: the fixed prefix, six
// alphanumeric characters, and optionally the trial suffix.
func isValidKeyFormat(key string) bool {
	const prefix = "MSK"
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := strings.TrimSuffix(key[len(prefix):], license.TrialSuffix)
	if len(rest) != 6 {
		return false
	}
	for _, ch := range rest {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')) {
			return false
		}
	}
	return true
}

// maskKey masks a key value for logging
func maskKey(key string) string {
	if len(key) <= 6 {
		return "****"
	}
	return key[:3] + "****" + key[len(key)-2:]
}

// renderAPIError writes an APIError in the standard envelope
func renderAPIError(w http.ResponseWriter, r *http.Request, apiErr *apperrors.APIError) {
	render.Render(w, r, apperrors.NewErrorResponse(apiErr))
}
