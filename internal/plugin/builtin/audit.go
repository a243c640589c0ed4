// Package builtin contains the plugins shipped with the gateway binary.
package builtin

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/plugin"
)

// Audit logs a structured audit record for every request that passes through
// the gateway. A production deployment would publish these events to a
// message broker for downstream analytics instead of the process log.
type Audit struct {
	enabled  atomic.Bool
	settings map[string]any
}

// NewAudit creates the audit logging plugin.
func NewAudit() *Audit {
	return &Audit{}
}

func (a *Audit) ID() string          { return "audit" }
func (a *Audit) Name() string        { return "Audit Logging Plugin" }
func (a *Audit) Version() string     { return "1.0.0" }
func (a *Audit) Phase() plugin.Phase { return plugin.PostRoute }
func (a *Audit) Order() int          { return 10 }

func (a *Audit) Initialize(settings map[string]any) error {
	a.settings = settings
	a.enabled.Store(true)
	logging.Info("Audit plugin initialized", zap.Int("settings", len(settings)))
	return nil
}

func (a *Audit) Execute(_ context.Context, r *http.Request, pc *plugin.Context) (plugin.Result, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	logging.Info("audit",
		zap.String("timestamp", timestamp),
		zap.String("correlationId", pc.CorrelationID),
		zap.String("routeId", pc.RouteID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", pc.StatusCode),
		zap.String("clientIp", clientIP(r)),
		zap.String("userAgent", headerOr(r, "User-Agent", "unknown")),
		zap.String("apiKey", maskAPIKey(r.Header.Get("X-API-Key"))))

	return plugin.Result{
		Proceed: true,
		Metadata: map[string]any{
			"audit.timestamp": timestamp,
			"audit.logged":    true,
		},
	}, nil
}

func (a *Audit) Shutdown() error {
	a.enabled.Store(false)
	logging.Info("Audit plugin shut down")
	return nil
}

func (a *Audit) Enabled() bool { return a.enabled.Load() }

func (a *Audit) HealthCheck(context.Context) plugin.Health {
	enabled := a.enabled.Load()
	return plugin.Health{
		Healthy: enabled,
		Details: map[string]any{
			"plugin":  a.ID(),
			"enabled": enabled,
			"version": a.Version(),
		},
	}
}

func headerOr(r *http.Request, name, fallback string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	return fallback
}

// maskAPIKey keeps only the first 8 characters of a key for audit records.
func maskAPIKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) > 8 {
		key = key[:8]
	}
	return key + "***"
}
