package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"keyserve/internal/config"
)

// AdminAuth verifies the administrator password. Production deployments set
// a bcrypt hash; the plain-text fallback exists for local development only.
// POST endpoints carry the password in their JSON body and call Verify from
// the handler; GET endpoints are gated by RequireQueryPassword.
type AdminAuth struct {
	passwordHash string
	password     string
	logger       *slog.Logger
}

// NewAdminAuth creates the admin authenticator from configuration
func NewAdminAuth(cfg config.AdminConfig, logger *slog.Logger) *AdminAuth {
	return &AdminAuth{
		passwordHash: cfg.PasswordHash,
		password:     cfg.Password,
		logger:       logger.With(slog.String("component", "admin_auth")),
	}
}

// Verify reports whether the presented password is the administrator password
func (a *AdminAuth) Verify(password string) bool {
	if password == "" {
		return false
	}
	if a.passwordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) == 1
}

// RequireQueryPassword gates GET admin endpoints on a password query parameter
func (a *AdminAuth) RequireQueryPassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r.URL.Query().Get("password")) {
			a.logger.WarnContext(r.Context(), "unauthorized admin request",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":{"status_code":401,"error_code":"UNAUTHORIZED","message":"Authentication required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
