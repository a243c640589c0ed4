package builtin

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/plugin"
)

// Compliance is the Orbit compliance check skeleton. A full deployment calls
// the Orbit compliance gateway for KYC/AML screening and blocks requests from
// sanctioned or unverified entities; until that integration lands every
// request passes through tagged with a passthrough status.
type Compliance struct {
	enabled  atomic.Bool
	orbitURL string
	settings map[string]any
}

// NewCompliance creates the compliance plugin.
func NewCompliance() *Compliance {
	return &Compliance{}
}

func (c *Compliance) ID() string          { return "compliance" }
func (c *Compliance) Name() string        { return "Compliance Plugin" }
func (c *Compliance) Version() string     { return "1.0.0" }
func (c *Compliance) Phase() plugin.Phase { return plugin.PreRoute }
func (c *Compliance) Order() int          { return 50 }

func (c *Compliance) Initialize(settings map[string]any) error {
	c.settings = settings
	c.orbitURL = stringSetting(settings, "orbit-url", "")
	c.enabled.Store(true)
	logging.Info("Compliance plugin initialized", zap.String("orbitUrl", c.orbitURL))
	return nil
}

func (c *Compliance) Execute(_ context.Context, r *http.Request, pc *plugin.Context) (plugin.Result, error) {
	logging.Debug("Compliance check in passthrough mode",
		zap.String("path", r.URL.Path),
		zap.String("clientIp", clientIP(r)),
		zap.String("correlationId", pc.CorrelationID))

	return plugin.Result{
		Proceed: true,
		Headers: map[string]string{"X-Compliance-Status": "passthrough"},
		Metadata: map[string]any{
			"compliance.status":          "passthrough",
			"compliance.orbitConfigured": c.orbitURL != "",
		},
	}, nil
}

func (c *Compliance) Shutdown() error {
	c.enabled.Store(false)
	logging.Info("Compliance plugin shut down")
	return nil
}

func (c *Compliance) Enabled() bool { return c.enabled.Load() }

func (c *Compliance) HealthCheck(context.Context) plugin.Health {
	enabled := c.enabled.Load()
	return plugin.Health{
		Healthy: enabled,
		Details: map[string]any{
			"plugin":          c.ID(),
			"enabled":         enabled,
			"version":         c.Version(),
			"orbitUrl":        c.orbitURL,
			"orbitConfigured": c.orbitURL != "",
		},
	}
}

func stringSetting(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok {
		return v
	}
	return fallback
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
