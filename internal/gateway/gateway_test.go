package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bridgegate/gateway/internal/config"
	"github.com/bridgegate/gateway/internal/plugin"
)

type testPlugin struct {
	id      string
	phase   plugin.Phase
	order   int
	execute func(ctx context.Context, r *http.Request, pc *plugin.Context) (plugin.Result, error)
}

func (p *testPlugin) ID() string                      { return p.id }
func (p *testPlugin) Name() string                    { return p.id }
func (p *testPlugin) Version() string                 { return "1.0.0" }
func (p *testPlugin) Phase() plugin.Phase             { return p.phase }
func (p *testPlugin) Order() int                      { return p.order }
func (p *testPlugin) Initialize(map[string]any) error { return nil }
func (p *testPlugin) Shutdown() error                 { return nil }
func (p *testPlugin) Enabled() bool                   { return true }
func (p *testPlugin) HealthCheck(context.Context) plugin.Health {
	return plugin.Health{Healthy: true}
}

func (p *testPlugin) Execute(ctx context.Context, r *http.Request, pc *plugin.Context) (plugin.Result, error) {
	if p.execute == nil {
		return plugin.Proceed(), nil
	}
	return p.execute(ctx, r, pc)
}

func testBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testGatewayConfig(backendURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.Routes = []config.RouteConfig{
		{ID: "orchestra-api", Path: "/api/orchestra/**", URI: backendURL, StripPrefix: 2, Group: "orchestra"},
	}
	return cfg
}

func enableAll(cfg *config.Config, plugins []plugin.Plugin) {
	cfg.Plugins = make(map[string]config.PluginConfig, len(plugins))
	for _, p := range plugins {
		cfg.Plugins[p.ID()] = config.PluginConfig{Enabled: true}
	}
}

func TestForwardHappyPath(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"users":[]}`))
	})

	g := New(testGatewayConfig(backend.URL), nil)
	handler := g.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"users":[]}` {
		t.Errorf("body not proxied: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Gateway-Route") != "orchestra-api" {
		t.Errorf("route header missing: %s", rec.Header().Get("X-Gateway-Route"))
	}
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Error("correlation id missing on response")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestUnmatchedRouteIs404(t *testing.T) {
	g := New(testGatewayConfig("http://unused:1"), nil)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not json: %v", err)
	}
	if body["error"] != "not_found" {
		t.Errorf("wrong error code: %v", body["error"])
	}
}

func TestAuthRequiredRoute(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cfg := testGatewayConfig(backend.URL)
	cfg.Routes[0].AuthRequired = true
	cfg.Auth.APIKeys = []string{"valid-key"}
	g := New(cfg, nil)
	handler := g.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/orchestra/users", nil)
	req.Header.Set("X-API-Key", "bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("invalid key: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/orchestra/users", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: expected 200, got %d", rec.Code)
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cfg := testGatewayConfig(backend.URL)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstCapacity:     2,
	}
	g := New(cfg, nil)
	handler := g.Handler()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("limit header wrong: %s", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining header wrong: %s", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on 429")
	}
}

func TestPreRouteVeto(t *testing.T) {
	backendHit := false
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		backendHit = true
	})

	veto := &testPlugin{id: "veto", phase: plugin.PreRoute, order: 10,
		execute: func(_ context.Context, _ *http.Request, _ *plugin.Context) (plugin.Result, error) {
			return plugin.Result{Proceed: false, StatusCode: 402, Body: `{"error":"quota"}`}, nil
		}}

	cfg := testGatewayConfig(backend.URL)
	enableAll(cfg, []plugin.Plugin{veto})
	g := New(cfg, []plugin.Plugin{veto})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if rec.Code != 402 {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"quota"}` {
		t.Errorf("plugin body not served: %s", rec.Body.String())
	}
	if backendHit {
		t.Error("vetoed request must not reach the backend")
	}
}

func TestPreRouteVetoWithoutBody(t *testing.T) {
	backendHit := false
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		backendHit = true
	})

	veto := &testPlugin{id: "silent-veto", phase: plugin.PreRoute, order: 10,
		execute: func(_ context.Context, _ *http.Request, _ *plugin.Context) (plugin.Result, error) {
			return plugin.Result{Proceed: false, Headers: map[string]string{"X-Denied-By": "silent-veto"}}, nil
		}}

	cfg := testGatewayConfig(backend.URL)
	enableAll(cfg, []plugin.Plugin{veto})
	g := New(cfg, []plugin.Plugin{veto})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("veto without status must default to 403, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("veto without body must send an empty body, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Denied-By") != "silent-veto" {
		t.Error("headers merged before the veto must still be sent")
	}
	if backendHit {
		t.Error("vetoed request must not reach the backend")
	}
}

func TestPluginHeadersOnResponse(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	pre := &testPlugin{id: "pre", phase: plugin.PreRoute, order: 10,
		execute: func(_ context.Context, _ *http.Request, _ *plugin.Context) (plugin.Result, error) {
			return plugin.Result{Proceed: true, Headers: map[string]string{"X-Monetization-Plan": "free"}}, nil
		}}
	var postStatus int
	post := &testPlugin{id: "post", phase: plugin.PostRoute, order: 10,
		execute: func(_ context.Context, _ *http.Request, pc *plugin.Context) (plugin.Result, error) {
			postStatus = pc.StatusCode
			return plugin.Result{Proceed: true, Headers: map[string]string{"X-Audit": "logged"}}, nil
		}}

	cfg := testGatewayConfig(backend.URL)
	plugins := []plugin.Plugin{pre, post}
	enableAll(cfg, plugins)
	g := New(cfg, plugins)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if rec.Header().Get("X-Monetization-Plan") != "free" {
		t.Error("PRE_ROUTE header missing on response")
	}
	if rec.Header().Get("X-Audit") != "logged" {
		t.Error("POST_ROUTE header missing on response")
	}
	if postStatus != http.StatusOK {
		t.Errorf("POST_ROUTE must observe the backend status, got %d", postStatus)
	}
}

func TestRouteScopedPlugins(t *testing.T) {
	backend := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var executed []string
	mk := func(id string) *testPlugin {
		return &testPlugin{id: id, phase: plugin.PreRoute, order: 10,
			execute: func(_ context.Context, _ *http.Request, _ *plugin.Context) (plugin.Result, error) {
				executed = append(executed, id)
				return plugin.Proceed(), nil
			}}
	}

	cfg := testGatewayConfig(backend.URL)
	cfg.Routes[0].Plugins = []string{"scoped"}
	plugins := []plugin.Plugin{mk("scoped"), mk("unscoped")}
	enableAll(cfg, plugins)
	g := New(cfg, plugins)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if len(executed) != 1 || executed[0] != "scoped" {
		t.Errorf("route plugin scope not applied: %v", executed)
	}
}

func TestBackendDownServesFallback(t *testing.T) {
	cfg := testGatewayConfig("http://127.0.0.1:1")
	g := New(cfg, nil)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/orchestra/users", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SERVICE_UNAVAILABLE") {
		t.Errorf("fallback body missing: %s", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on fallback")
	}
}

func TestOversizeRequestRejected(t *testing.T) {
	cfg := testGatewayConfig("http://unused:1")
	cfg.Security.MaxRequestSize = 10
	g := New(cfg, nil)

	req := httptest.NewRequest("POST", "/api/orchestra/users", strings.NewReader(strings.Repeat("x", 100)))
	req.ContentLength = 100
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
