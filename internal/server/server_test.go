package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/service"
	"github.com/faucetdb/keyhub/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testJWTSecret = "test-secret-for-jwt-integration-tests"

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *store.SQLStore
	sessions *service.SessionService
	metrics  *metrics.Metrics
}

// newTestEnv creates a fresh test environment with an in-memory SQLite store
// and a fully wired Server.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	gen := secret.MustGenerator("", "")
	st, err := store.Open(store.Config{Driver: store.DriverSQLite}, gen)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	sessions, err := service.NewSessionService(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	oauth, err := service.NewOAuthService(st, m, service.ProviderConfig{
		Name:         service.ProviderGoogle,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
	})
	if err != nil {
		t.Fatalf("NewOAuthService: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Version = "test"
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv, err := New(cfg, Services{
		Keys:       service.NewKeyService(st, service.WithMetrics(m), service.WithLogger(logger)),
		Sessions:   sessions,
		OAuth:      oauth,
		Visibility: service.NewMemoryVisibility(time.Hour),
		Metrics:    m,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{server: srv, store: st, sessions: sessions, metrics: m}
}

// signIn stores a user and returns a session token for it.
func (e *testEnv) signIn(t *testing.T, subject string) string {
	t.Helper()
	u := &model.User{Provider: "google", Subject: subject, Email: subject + "@example.com", Name: subject}
	if err := e.store.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	tok, _, err := e.sessions.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// do executes an HTTP request against the server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an HTTP request with a Bearer session token.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(got, want) {
		t.Errorf("Content-Type = %q, want prefix %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	checks, ok := resp["checks"].(map[string]interface{})
	if !ok || checks["store"] != "ok" {
		t.Errorf("checks = %v", resp["checks"])
	}
}

func TestReadyz_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(DefaultConfig(), Services{}, slog.Default()); err == nil {
		t.Error("expected error for missing services")
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestKeyEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/keys"},
		{"POST", "/api/v1/keys"},
		{"GET", "/api/v1/keys/0190f1a4-0000-7000-8000-000000000000"},
		{"PATCH", "/api/v1/keys/0190f1a4-0000-7000-8000-000000000000"},
		{"DELETE", "/api/v1/keys/0190f1a4-0000-7000-8000-000000000000?confirm=true"},
		{"POST", "/api/v1/keys/0190f1a4-0000-7000-8000-000000000000/regenerate"},
		{"GET", "/api/v1/me"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rr := env.do(t, ep.method, ep.path, nil, nil)
			assertStatus(t, rr, http.StatusUnauthorized)

			var resp model.ErrorResponse
			decodeJSON(t, rr, &resp)
			if resp.Error.Code != http.StatusUnauthorized || resp.Error.Message != "Unauthorized" {
				t.Errorf("error = %+v", resp.Error)
			}
		})
	}
}

func TestKeyEndpoints_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	u := &model.User{ID: "u-1", Email: "a@example.com"}
	tok, _, err := env.sessions.IssueFor(u, -time.Minute)
	if err != nil {
		t.Fatalf("IssueFor: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSessionCookieAccepted(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: "keyhub_session", Value: tok})
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)
}

func TestLoginRedirectsToProvider(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/auth/google/login", nil, nil)
	assertStatus(t, rr, http.StatusTemporaryRedirect)
	if loc := rr.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("Location = %q", loc)
	}

	rr = env.do(t, "GET", "/auth/providers", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"google"`) {
		t.Errorf("providers = %s", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Full workflow
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	// Create
	rr := env.doAuth(t, "POST", "/api/v1/keys", jsonBody(t, map[string]string{"name": "development"}), tok)
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Key          string `json:"key"`
		Visible      bool   `json:"visible"`
		Usage        int64  `json:"usage"`
		RequestLimit int    `json:"request_limit"`
	}
	decodeJSON(t, rr, &created)
	if created.Name != "development" || created.Usage != 0 || created.RequestLimit != 1000 {
		t.Fatalf("created = %+v", created)
	}
	if !secret.MustGenerator("", "").Matches(created.Key) {
		t.Errorf("secret %q does not match the generation rule", created.Key)
	}

	// List shows it masked
	rr = env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), secret.Mask(created.Key)) || strings.Contains(rr.Body.String(), created.Key) {
		t.Errorf("list should contain only the masked secret: %s", rr.Body.String())
	}

	// Rename
	rr = env.doAuth(t, "PATCH", "/api/v1/keys/"+created.ID, jsonBody(t, map[string]string{"name": "dev-2"}), tok)
	assertStatus(t, rr, http.StatusOK)

	// Mask
	rr = env.doAuth(t, "POST", "/api/v1/mask", jsonBody(t, map[string]string{"key": created.Key}), tok)
	assertStatus(t, rr, http.StatusOK)
	var masked map[string]string
	decodeJSON(t, rr, &masked)
	if masked["masked"] != "keyhub-"+strings.Repeat("•", 32) {
		t.Errorf("masked = %q", masked["masked"])
	}

	// Delete, then the id is gone
	rr = env.doAuth(t, "DELETE", "/api/v1/keys/"+created.ID+"?confirm=true", nil, tok)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAuth(t, "GET", "/api/v1/keys/"+created.ID, nil, tok)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if list.Meta == nil || list.Meta.Count != 0 {
		t.Errorf("list after delete = %+v", list)
	}
}

func TestStoreDownReturns503(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")
	env.store.Close()

	rr := env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Code != http.StatusServiceUnavailable {
		t.Errorf("error code = %d", resp.Error.Code)
	}
}

// ---------------------------------------------------------------------------
// Metadata endpoints
// ---------------------------------------------------------------------------

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var doc map[string]interface{}
	decodeJSON(t, rr, &doc)
	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	paths, _ := doc["paths"].(map[string]interface{})
	if _, ok := paths["/api/v1/keys/{id}/regenerate"]; !ok {
		t.Error("regenerate path missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	env.doAuth(t, "POST", "/api/v1/keys", jsonBody(t, map[string]string{"name": "development"}), tok)
	env.doAuth(t, "POST", "/api/v1/keys", jsonBody(t, map[string]string{"name": ""}), tok)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		`keyhub_key_operations_total{operation="create",outcome="ok"} 1`,
		`keyhub_key_operations_total{operation="create",outcome="invalid"} 1`,
		`keyhub_http_request_duration_seconds_count{method="POST"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

func TestDashboardEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "text/html")
	if !strings.Contains(rr.Body.String(), "/auth/google/login") {
		t.Error("sign-in page should link the google provider")
	}

	rr = env.do(t, "GET", "/static/keyhub.css", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestDashboardDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.EnableUI = false })

	rr := env.do(t, "GET", "/", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Middleware behavior
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/api/v1/keys", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Authorization,Content-Type",
	})

	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("wildcard origins must not allow credentials, got %q", got)
	}
}

func TestCORSCredentialsForExplicitOrigins(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.CORSOrigins = []string{"http://app.example.com"}
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		return env.do(t, "OPTIONS", "/api/v1/keys", nil, map[string]string{
			"Origin":                        origin,
			"Access-Control-Request-Method": "POST",
		})
	}

	rr := preflight("http://app.example.com")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}

	rr = preflight("http://evil.example.com")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin echoed: %q", got)
	}
}

func TestWildcardOrigin(t *testing.T) {
	if !wildcardOrigin([]string{"http://a.example", "*"}) {
		t.Error("expected wildcard detected")
	}
	if wildcardOrigin([]string{"http://a.example"}) || wildcardOrigin(nil) {
		t.Error("explicit origin list reported as wildcard")
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, map[string]string{"X-Request-ID": "trace-123"})
	if got := rr.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "PATCH", "/healthz", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 405 or 404", rr.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodySize = 64 })
	tok := env.signIn(t, "alice")

	body := jsonBody(t, map[string]string{"name": strings.Repeat("x", 200)})
	rr := env.doAuth(t, "POST", "/api/v1/keys", body, tok)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = 2
		c.RateWindow = time.Minute
	})
	tok := env.signIn(t, "alice")

	for i := 0; i < 2; i++ {
		rr := env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
		assertStatus(t, rr, http.StatusOK)
	}
	rr := env.doAuth(t, "GET", "/api/v1/keys", nil, tok)
	assertStatus(t, rr, http.StatusTooManyRequests)
}

func TestRateLimit_InvalidTokensShareIPBucket(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = 2
		c.RateWindow = time.Minute
	})

	for i := 0; i < 2; i++ {
		rr := env.doAuth(t, "GET", "/api/v1/keys", nil, fmt.Sprintf("garbage-%d", i))
		assertStatus(t, rr, http.StatusUnauthorized)
	}
	rr := env.doAuth(t, "GET", "/api/v1/keys", nil, "garbage-2")
	assertStatus(t, rr, http.StatusTooManyRequests)
}
