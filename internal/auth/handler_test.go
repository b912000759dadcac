package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xu-registrar/doctrack/internal/rbac"
)

func newTestRouter(t *testing.T) (http.Handler, *googleFixture) {
	t.Helper()
	g := newGoogleFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, g.svc, g.google, rbac.Middleware{Logger: logger}, HandlerOptions{})

	r := chi.NewRouter()
	r.Use(h.Authenticate)
	r.Route("/api/auth", h.MountRoutes)
	r.Route("/auth/google", h.MountGoogleRoutes)
	r.Route("/api/admin", h.MountAdminRoutes)
	return r, g
}

func doJSON(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLoginEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"sysadmin@xu.edu.ph","password":"SysAdmin123!"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	sess := body["session"].(map[string]any)
	assert.True(t, strings.HasPrefix(sess["sessionId"].(string), "sess_"))
	user := body["user"].(map[string]any)
	assert.Equal(t, "SystemAdministrator", user["role"])

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, sessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginEndpointHidesAccountExistence(t *testing.T) {
	router, _ := newTestRouter(t)
	wrongPassword := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"registrar@xu.edu.ph","password":"nope"}`, "")
	unknownUser := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"ghost@xu.edu.ph","password":"nope"}`, "")

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, "Invalid credentials", decodeBody(t, unknownUser)["message"])
}

func TestLoginEndpointErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"hacker@gmail.com","password":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_DOMAIN", decodeBody(t, rec)["errorCode"])

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":""}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_CREDENTIALS", decodeBody(t, rec)["errorCode"])

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 5; i++ {
		doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"intern@my.xu.edu.ph","password":"bad"}`, "")
	}
	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"intern@my.xu.edu.ph","password":"Intern111!"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 1800, decodeBody(t, rec)["retryAfter"])
}

func TestSessionAndLogoutEndpoints(t *testing.T) {
	router, g := newTestRouter(t)
	token := g.login(t, "evaluator@xu.edu.ph", "Evaluator789!")

	rec := doJSON(t, router, http.MethodGet, "/api/auth/session/"+token, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody(t, rec)["session"].(map[string]any)
	assert.Equal(t, "evaluator@xu.edu.ph", sess["email"])
	assert.Equal(t, true, sess["isActive"])

	rec = doJSON(t, router, http.MethodGet, "/api/auth/session/bogus", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Session not found or expired", decodeBody(t, rec)["message"])

	rec = doJSON(t, router, http.MethodPost, "/api/auth/logout", `{"sessionId":"`+token+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session destroyed successfully", decodeBody(t, rec)["message"])

	rec = doJSON(t, router, http.MethodPost, "/api/auth/logout", `{"sessionId":"`+token+`"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Session already destroyed", decodeBody(t, rec)["message"])

	rec = doJSON(t, router, http.MethodGet, "/api/auth/session/"+token+"/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, "user_logout", body["reason"])
}

func TestAdminEndpoints(t *testing.T) {
	router, g := newTestRouter(t)
	admin := g.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	evaluator := g.login(t, "evaluator@xu.edu.ph", "Evaluator789!")

	rec := doJSON(t, router, http.MethodGet, "/api/admin/status", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operational", decodeBody(t, rec)["systemHealth"])

	rec = doJSON(t, router, http.MethodGet, "/api/admin/status", "", evaluator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/audit?limit=5", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/audit?limit=5", "", evaluator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/audit?limit=5", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody(t, rec)["events"].([]any)
	assert.LessOrEqual(t, len(events), 5)
	assert.NotEmpty(t, events)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/integrity", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/users/intern@my.xu.edu.ph", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Intern", decodeBody(t, rec)["role"])

	rec = doJSON(t, router, http.MethodPut, "/api/admin/users/intern@my.xu.edu.ph/role", `{"role":"StudentAssistant"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "StudentAssistant", decodeBody(t, rec)["role"])

	rec = doJSON(t, router, http.MethodPut, "/api/admin/users/intern@my.xu.edu.ph/role", `{"role":"Evaluator"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ROLE_FOR_DOMAIN", decodeBody(t, rec)["errorCode"])
}

func TestActiveSessionsEndpoint(t *testing.T) {
	router, g := newTestRouter(t)
	admin := g.login(t, "sysadmin@xu.edu.ph", "SysAdmin123!")
	evaluator := g.login(t, "evaluator@xu.edu.ph", "Evaluator789!")

	rec := doJSON(t, router, http.MethodGet, "/api/admin/sessions", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_SESSION", decodeBody(t, rec)["errorCode"])

	rec = doJSON(t, router, http.MethodGet, "/api/admin/sessions", "", evaluator)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", decodeBody(t, rec)["errorCode"])

	rec = doJSON(t, router, http.MethodGet, "/api/admin/sessions", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
	listed := body["sessions"].([]any)
	require.Len(t, listed, 2)
	var emails []string
	for _, item := range listed {
		entry := item.(map[string]any)
		assert.NotContains(t, entry, "sessionId")
		emails = append(emails, entry["email"].(string))
	}
	assert.ElementsMatch(t, []string{"sysadmin@xu.edu.ph", "evaluator@xu.edu.ph"}, emails)

	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/api/auth/logout", "", admin).Code)
	rec = doJSON(t, router, http.MethodGet, "/api/admin/sessions", "", admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGoogleRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/auth/google", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "accounts.google.com")
	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	require.NotNil(t, state)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=4/0AbCdEfGhIjK&state="+state.Value, nil)
	req.AddCookie(state)
	cb := httptest.NewRecorder()
	router.ServeHTTP(cb, req)
	require.Equal(t, http.StatusFound, cb.Code)
	assert.Equal(t, "/dashboard", cb.Header().Get("Location"))

	var issued bool
	for _, c := range cb.Result().Cookies() {
		if c.Name == sessionCookie && strings.HasPrefix(c.Value, "sess_") {
			issued = true
		}
	}
	assert.True(t, issued)

	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=4/0AbCdEfGhIjK&state="+state.Value, nil)
	cb = httptest.NewRecorder()
	router.ServeHTTP(cb, req)
	assert.Equal(t, "/?error=invalid_params", cb.Header().Get("Location"))
}
