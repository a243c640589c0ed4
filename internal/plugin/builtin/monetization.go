package builtin

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/plugin"
)

// Monetization is the API metering skeleton. A full deployment checks usage
// quota against the billing service and rejects over-quota calls with 402;
// until that integration lands every request passes through on the free tier.
type Monetization struct {
	enabled       atomic.Bool
	billingURL    string
	freeTierLimit int
	settings      map[string]any
}

// NewMonetization creates the monetization plugin.
func NewMonetization() *Monetization {
	return &Monetization{freeTierLimit: 1000}
}

func (m *Monetization) ID() string          { return "monetization" }
func (m *Monetization) Name() string        { return "Monetization Plugin" }
func (m *Monetization) Version() string     { return "1.0.0" }
func (m *Monetization) Phase() plugin.Phase { return plugin.PreRoute }
func (m *Monetization) Order() int          { return 100 }

func (m *Monetization) Initialize(settings map[string]any) error {
	m.settings = settings
	m.billingURL = stringSetting(settings, "billing-service-url", "")
	m.freeTierLimit = intSetting(settings, "free-tier-limit", 1000)
	m.enabled.Store(true)
	logging.Info("Monetization plugin initialized",
		zap.String("billingServiceUrl", m.billingURL),
		zap.Int("freeTierLimit", m.freeTierLimit))
	return nil
}

func (m *Monetization) Execute(_ context.Context, r *http.Request, pc *plugin.Context) (plugin.Result, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		logging.Debug("Monetization check",
			zap.String("apiKey", maskAPIKey(apiKey)),
			zap.String("path", r.URL.Path),
			zap.String("correlationId", pc.CorrelationID))
	} else {
		logging.Debug("No API key present, applying free tier",
			zap.String("path", r.URL.Path),
			zap.String("correlationId", pc.CorrelationID))
	}

	return plugin.Result{
		Proceed: true,
		Headers: map[string]string{"X-Monetization-Plan": "free"},
		Metadata: map[string]any{
			"monetization.plan":  "free",
			"monetization.limit": m.freeTierLimit,
		},
	}, nil
}

func (m *Monetization) Shutdown() error {
	m.enabled.Store(false)
	logging.Info("Monetization plugin shut down")
	return nil
}

func (m *Monetization) Enabled() bool { return m.enabled.Load() }

func (m *Monetization) HealthCheck(context.Context) plugin.Health {
	enabled := m.enabled.Load()
	return plugin.Health{
		Healthy: enabled,
		Details: map[string]any{
			"plugin":                   m.ID(),
			"enabled":                  enabled,
			"version":                  m.Version(),
			"billingServiceUrl":        m.billingURL,
			"freeTierLimit":            m.freeTierLimit,
			"billingServiceConfigured": m.billingURL != "",
		},
	}
}

func intSetting(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
