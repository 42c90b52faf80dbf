package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"keyserve/internal/config"
	"keyserve/internal/infrastructure"
	"keyserve/internal/license"
	"keyserve/internal/middleware"
	"keyserve/internal/services"
	"keyserve/internal/store"
)

const testAdminPassword = "admin-secret"

// fixture wires the real services over an in-memory store, mirroring the
// application router layout.
type fixture struct {
	store   *store.MemoryStore
	manager *license.Manager
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()

	generator := license.NewGenerator(s, logger)
	guard := license.NewTrialGuard(s, logger)
	manager := license.NewManager(s, generator, logger)
	coordinator := license.NewCoordinator(s, guard, 8760*time.Hour, logger)
	metrics := infrastructure.NewMetrics()

	keyService := services.NewKeyService(coordinator, metrics, logger)
	adminService := services.NewAdminService(manager, s, metrics, logger)
	auth := middleware.NewAdminAuth(config.AdminConfig{Password: testAdminPassword}, logger)

	keysHandler := NewKeysHandler(keyService, logger)
	adminHandler := NewAdminHandler(adminService, auth, 500, logger)
	configHandler := NewConfigHandler(adminService, logger)
	healthHandler := NewHealthHandler(s, "test", logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Mount("/keys", keysHandler.Routes())
		r.Post("/keys/batch", adminHandler.BatchIssue)
		r.Mount("/admin", adminHandler.Routes())
		r.Get("/config", configHandler.GetPublicConfig)
		r.Get("/healthz", healthHandler.Health)
	})

	return &fixture{store: s, manager: manager, router: r}
}

func (f *fixture) issue(t *testing.T, keyType license.KeyType, policy license.ExpiryPolicy) string {
	t.Helper()
	record, err := f.manager.Issue(context.Background(), keyType, policy)
	require.NoError(t, err)
	return record.KeyValue
}

func (f *fixture) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// errorEnvelope mirrors the standard error response shape
type errorEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		StatusCode int    `json:"status_code"`
		ErrorCode  string `json:"error_code"`
		Message    string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}
