// Package plugin defines the gateway's middleware plugin contract and the
// registry that owns plugin enablement at runtime.
//
// A plugin is a self-contained unit of request/response processing executed
// in a defined phase and order. Plugins are discovered once at startup and
// toggled through the admin interface; the underlying instances live for the
// process lifetime.
package plugin

import (
	"context"
	"net/http"
)

// Phase is the point in the request lifecycle when a plugin executes.
type Phase string

const (
	// PreRoute plugins run before the request is forwarded and may veto it.
	PreRoute Phase = "PRE_ROUTE"
	// PostRoute plugins run after the backend response is received. They are
	// observational: their proceed value has no effect on the response.
	PostRoute Phase = "POST_ROUTE"
	// Both plugins run in both phases.
	Both Phase = "BOTH"
)

// Matches reports whether a plugin declaring this phase should run in the
// requested phase.
func (p Phase) Matches(requested Phase) bool {
	return p == requested || p == Both
}

// Context carries per-request state through the plugin pipeline. It is
// created fresh before PRE_ROUTE begins and discarded when the response
// completes. Pipeline execution is strictly sequential within a request, so
// Metadata needs no locking.
type Context struct {
	RouteID       string
	CorrelationID string

	// StatusCode is the response status, populated before POST_ROUTE runs.
	StatusCode int

	// Metadata accumulates contributions from every executed plugin and is
	// visible to all subsequently executed plugins.
	Metadata map[string]any
}

// NewContext creates a fresh per-request plugin context.
func NewContext(routeID, correlationID string) *Context {
	return &Context{
		RouteID:       routeID,
		CorrelationID: correlationID,
		Metadata:      make(map[string]any),
	}
}

// Result is the outcome of one plugin execution. StatusCode and Body are
// meaningful only when Proceed is false.
type Result struct {
	Proceed    bool
	StatusCode int
	Body       string
	Headers    map[string]string
	Metadata   map[string]any
}

// Proceed is the neutral result substituted when a plugin fails.
func Proceed() Result {
	return Result{Proceed: true}
}

// Health is the outcome of a plugin health check.
type Health struct {
	Healthy bool           `json:"healthy"`
	Details map[string]any `json:"details,omitempty"`
}

// Plugin is the capability contract every gateway plugin implements.
//
// Implementations must tolerate Shutdown being called even when Initialize
// never succeeded, and HealthCheck must not panic; the registry treats any
// failure during the check itself as unhealthy.
type Plugin interface {
	// ID returns the unique identifier for this plugin.
	ID() string
	// Name returns the human-readable plugin name.
	Name() string
	// Version returns the plugin's semantic version.
	Version() string
	// Phase returns the phase in which this plugin executes.
	Phase() Phase
	// Order returns the execution order within the phase; lower runs first.
	Order() int

	// Initialize performs idempotent setup with the provided settings.
	// Called when the plugin is enabled.
	Initialize(settings map[string]any) error

	// Execute runs the plugin logic for one request.
	Execute(ctx context.Context, r *http.Request, pc *Context) (Result, error)

	// Shutdown releases plugin resources. Called on disable and at process
	// teardown.
	Shutdown() error

	// Enabled reports the plugin's own readiness, distinct from the
	// registry's enabled set.
	Enabled() bool

	// HealthCheck reports the plugin's health.
	HealthCheck(ctx context.Context) Health
}
