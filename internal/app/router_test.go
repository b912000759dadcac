package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/auth"
	"github.com/xu-registrar/doctrack/internal/observability"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/requests"
	"github.com/xu-registrar/doctrack/internal/session"
	"github.com/xu-registrar/doctrack/jobs"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000}
	metrics := observability.NewMetrics()
	registry := rbac.NewRegistry()
	events := audit.NewLogger(logger, 0)

	whitelist := auth.NewWhitelist(rbac.RoleStudentAssistant)
	require.NoError(t, whitelist.Seed(auth.DefaultSeed(), bcrypt.MinCost))
	authService := auth.NewService(auth.Config{
		Registry:  registry,
		Sessions:  session.NewStore(session.StoreConfig{Registry: registry, Audit: events, Logger: logger}),
		Whitelist: whitelist,
		Audit:     events,
		Logger:    logger,
		Metrics:   metrics,
		Delay:     auth.NoDelay,
	})
	rbacMW := rbac.Middleware{Logger: logger}
	authHandler := auth.NewHandler(logger, authService, nil, rbacMW, auth.HandlerOptions{
		LoginLimit: LoginRateLimit(),
	})

	requestService := requests.NewService(requests.Config{Audit: events, Logger: logger})
	_, err := requestService.Seed(context.Background(), requests.DemoRecords())
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		RequestsHandler:    requests.NewHandler(logger, requestService, rbacMW),
		PermissionsHandler: rbac.NewPermissionsHandler(registry, rbacMW),
		JobHandler:         jobs.NewHandler(nil, logger),
		Metrics:            metrics,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	body := strings.NewReader(`{"email":"` + email + `","password":"` + password + `"}`)
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Session struct {
			SessionID string `json:"sessionId"`
		} `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NotEmpty(t, payload.Session.SessionID)
	return payload.Session.SessionID
}

func get(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = get(t, srv, "/jobs/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPublicTrackingRoute(t *testing.T) {
	srv := newTestServer(t)

	resp := get(t, srv, "/api/track/erasmo_12345", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Success bool                  `json:"success"`
		Data    requests.TrackingView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Success)
	assert.Equal(t, requests.StatusProcessing, payload.Data.Status)

	resp = get(t, srv, "/api/track/SANTOS_12345", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProtectedRoutesUseSessionToken(t *testing.T) {
	srv := newTestServer(t)

	resp := get(t, srv, "/api/requests", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	registrar := login(t, srv, "registrar@xu.edu.ph", "Registrar456!")
	resp = get(t, srv, "/api/requests", registrar)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data []requests.Request `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list.Data, 3)

	evaluator := login(t, srv, "evaluator@xu.edu.ph", "Evaluator789!")
	resp = get(t, srv, "/api/admin/roles", evaluator)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := login(t, srv, "sysadmin@xu.edu.ph", "SysAdmin123!")
	resp = get(t, srv, "/api/admin/roles", admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointCountsLogins(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv, "evaluator@xu.edu.ph", "Evaluator789!")

	resp := get(t, srv, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `doctrack_auth_attempts_total{method="email_password",outcome="success"} 1`)
	assert.Contains(t, string(body), `doctrack_http_requests_total{code="200",route="/api/auth/login"} 1`)
}

func TestLoginRateLimit(t *testing.T) {
	srv := newTestServer(t)
	var last int
	for i := 0; i <= loginAttemptsPerMinute; i++ {
		resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		_ = resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
