package resilience

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bridgegate/gateway/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Resilience.Groups["custody"] = config.BreakerConfig{
		FailureRatio: 0.3,
		MinRequests:  2,
		OpenTimeout:  time.Minute,
		RetryAfter:   60,
		ServiceName:  "Custody service",
	}
	return cfg
}

func TestGroupResolution(t *testing.T) {
	m := NewManager(testConfig(), []string{"custody", "orchestra", ""})

	if m.Group("custody").Name() != "custody" {
		t.Error("custody group missing")
	}
	if m.Group("orchestra").Name() != "orchestra" {
		t.Error("route groups without explicit tuning still get a breaker")
	}
	if m.Group("unknown").Name() != "default" {
		t.Error("unknown groups must fall back to default")
	}
}

func TestBreakerOpensOnFailures(t *testing.T) {
	m := NewManager(testConfig(), []string{"custody"})
	g := m.Group("custody")

	failing := func() (*http.Response, error) {
		return nil, fmt.Errorf("connection refused")
	}

	// min_requests is 2 and the ratio threshold 0.3, so two failures trip it.
	for i := 0; i < 2; i++ {
		if _, err := g.Execute(failing); err == nil {
			t.Fatal("expected forward error")
		}
	}

	if g.State() != "open" {
		t.Fatalf("breaker should be open, state %s", g.State())
	}

	called := false
	_, err := g.Execute(func() (*http.Response, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Fatal("open breaker must reject")
	}
	if called {
		t.Error("open breaker must not invoke the forward")
	}
}

func TestBreakerStaysClosedUnderMinRequests(t *testing.T) {
	m := NewManager(testConfig(), nil)
	g := m.Group("default")

	if _, err := g.Execute(func() (*http.Response, error) {
		return nil, fmt.Errorf("single failure")
	}); err == nil {
		t.Fatal("expected forward error")
	}

	if g.State() != "closed" {
		t.Errorf("one failure below min_requests must not trip, state %s", g.State())
	}
}

func TestStates(t *testing.T) {
	m := NewManager(testConfig(), []string{"custody"})
	states := m.States()
	if states["default"] != "closed" || states["custody"] != "closed" {
		t.Errorf("unexpected states: %v", states)
	}
}

func TestWriteFallback(t *testing.T) {
	m := NewManager(testConfig(), []string{"custody"})

	rec := httptest.NewRecorder()
	m.Group("custody").WriteFallback(rec, "corr-9")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("wrong Retry-After: %s", rec.Header().Get("Retry-After"))
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("fallback body not json: %v", err)
	}
	if body["error"] != "SERVICE_UNAVAILABLE" {
		t.Errorf("wrong error code: %v", body["error"])
	}
	if body["message"] != "Custody service is temporarily unavailable. Please retry shortly." {
		t.Errorf("wrong message: %v", body["message"])
	}
	if body["correlationId"] != "corr-9" {
		t.Errorf("correlation id missing: %v", body["correlationId"])
	}
	if body["retryAfter"] != float64(60) {
		t.Errorf("wrong retryAfter: %v", body["retryAfter"])
	}
}

func TestDefaultFallbackMessage(t *testing.T) {
	m := NewManager(config.DefaultConfig(), nil)

	rec := httptest.NewRecorder()
	m.Group("default").WriteFallback(rec, "")

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("fallback body not json: %v", err)
	}
	if body["message"] != "The requested service is temporarily unavailable." {
		t.Errorf("wrong default message: %v", body["message"])
	}
	if _, present := body["service"]; present {
		t.Error("service field must be omitted when unnamed")
	}
	if _, present := body["correlationId"]; present {
		t.Error("correlation id must be omitted when blank")
	}
}
