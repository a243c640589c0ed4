package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bridgegate/gateway/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := NewChain(mk("outer"), mk("middle")).Append(mk("inner")).Then(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 3 || order[0] != "outer" || order[1] != "middle" || order[2] != "inner" {
		t.Errorf("wrong middleware order: %v", order)
	}
}

func TestChainUseIf(t *testing.T) {
	m := func(next http.Handler) http.Handler { return next }
	c := NewChain().UseIf(false, m).UseIf(true, m)
	if c.Len() != 1 {
		t.Errorf("expected 1 middleware, got %d", c.Len())
	}
}

func TestCorrelationGeneratesID(t *testing.T) {
	var seen string
	h := Correlation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		if r.Header.Get(CorrelationHeader) != seen {
			t.Error("correlation id must be forwarded on the request header")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))

	if seen == "" {
		t.Fatal("no correlation id generated")
	}
	if rec.Header().Get(CorrelationHeader) != seen {
		t.Error("correlation id must be echoed on the response")
	}
}

func TestCorrelationTrustsIncoming(t *testing.T) {
	h := Correlation()(okHandler())

	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set(CorrelationHeader, "client-supplied-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get(CorrelationHeader) != "client-supplied-id" {
		t.Errorf("incoming id must be preserved, got %s", rec.Header().Get(CorrelationHeader))
	}
}

func TestCorrelationBlankIncomingReplaced(t *testing.T) {
	h := Correlation()(okHandler())

	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set(CorrelationHeader, "   ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got == "" || strings.TrimSpace(got) == "" {
		t.Error("blank incoming id must be replaced with a generated one")
	}
}

func TestRecoveryReturns500(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_error") {
		t.Errorf("expected error body, got %s", rec.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-Gateway-Version":      "1.0.0",
		"Cache-Control":          "no-store, no-cache, must-revalidate",
	}
	for name, want := range expected {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestSizeLimitRejectsDeclaredOversize(t *testing.T) {
	h := SizeLimit(100)(okHandler())

	req := httptest.NewRequest("POST", "/api/x", strings.NewReader(strings.Repeat("a", 200)))
	req.ContentLength = 200
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if rec.Header().Get("X-Max-Request-Size") != "100" {
		t.Errorf("limit header missing: %s", rec.Header().Get("X-Max-Request-Size"))
	}
}

func TestSizeLimitPassesSmallBody(t *testing.T) {
	h := SizeLimit(100)(okHandler())

	req := httptest.NewRequest("POST", "/api/x", strings.NewReader("small"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func corsConfig() config.CORSConfig {
	return config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Correlation-Id", "X-RateLimit-Remaining"},
		MaxAge:         3600,
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(corsConfig())(okHandler())

	req := httptest.NewRequest("OPTIONS", "/api/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("wrong allow origin: %s", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "GET, POST" {
		t.Errorf("wrong allow methods: %s", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSActualRequest(t *testing.T) {
	h := CORS(corsConfig())(okHandler())

	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining") {
		t.Errorf("exposed headers missing: %s", rec.Header().Get("Access-Control-Expose-Headers"))
	}
}

func TestCORSRestrictedOrigin(t *testing.T) {
	cfg := corsConfig()
	cfg.AllowedOrigins = []string{"https://allowed.example.com"}
	h := CORS(cfg)(okHandler())

	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set("Origin", "https://other.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin must not receive CORS headers")
	}
}

func TestAPIKeyChecker(t *testing.T) {
	checker := NewAPIKeyChecker(config.AuthConfig{
		Header:  "X-API-Key",
		APIKeys: []string{"valid-key"},
	})

	req := httptest.NewRequest("GET", "/api/x", nil)
	if err := checker.Check(req); err == nil || err.Status != http.StatusUnauthorized {
		t.Errorf("missing key must yield 401, got %+v", err)
	}

	req.Header.Set("X-API-Key", "wrong-key")
	if err := checker.Check(req); err == nil || err.Status != http.StatusForbidden {
		t.Errorf("invalid key must yield 403, got %+v", err)
	}

	req.Header.Set("X-API-Key", "valid-key")
	if err := checker.Check(req); err != nil {
		t.Errorf("valid key must pass, got %+v", err)
	}
}

func TestAccessLogPreservesStatus(t *testing.T) {
	h := AccessLog()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status not passed through: %d", rec.Code)
	}
}
