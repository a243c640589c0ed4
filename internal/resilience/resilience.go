// Package resilience wraps backend forwarding in per-group circuit breakers
// and produces the fallback responses served while a backend is shed.
package resilience

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/config"
	"github.com/bridgegate/gateway/internal/logging"
)

// ErrOpen reports that the breaker rejected the call without attempting it.
var ErrOpen = gobreaker.ErrOpenState

// Group is one backend group's breaker plus its fallback tuning.
type Group struct {
	name    string
	cfg     config.BreakerConfig
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// Manager owns the breaker for every backend group named in route
// configuration, plus the default group used by routes without one.
type Manager struct {
	groups map[string]*Group
	def    *Group
}

// NewManager builds breakers for the default group and every distinct group
// in routeGroups, tuned from configuration.
func NewManager(cfg *config.Config, routeGroups []string) *Manager {
	m := &Manager{groups: make(map[string]*Group)}

	m.def = newGroup("default", cfg.BreakerFor("default"))
	m.groups["default"] = m.def

	for _, name := range routeGroups {
		if name == "" || m.groups[name] != nil {
			continue
		}
		m.groups[name] = newGroup(name, cfg.BreakerFor(name))
	}

	return m
}

func newGroup(name string, bc config.BreakerConfig) *Group {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.HalfOpenMax,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Circuit breaker state change",
				zap.String("group", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Group{
		name:    name,
		cfg:     bc,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Group resolves a breaker group by name, falling back to the default group.
func (m *Manager) Group(name string) *Group {
	if g, ok := m.groups[name]; ok {
		return g
	}
	return m.def
}

// States reports every group's breaker state, for the admin API.
func (m *Manager) States() map[string]string {
	out := make(map[string]string, len(m.groups))
	for name, g := range m.groups {
		out[name] = g.State()
	}
	return out
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// State returns the breaker state as a string.
func (g *Group) State() string { return g.breaker.State().String() }

// ForwardTimeout is the per-attempt deadline for forwarding to this group.
func (g *Group) ForwardTimeout() time.Duration { return g.cfg.ForwardTimeout }

// Execute runs the forward under the breaker. A breaker-rejected call
// returns ErrOpen (or the half-open overflow error) without invoking fn.
func (g *Group) Execute(fn func() (*http.Response, error)) (*http.Response, error) {
	return g.breaker.Execute(fn)
}

// fallbackBody mirrors the shape clients already parse for shed backends.
type fallbackBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Service       string `json:"service,omitempty"`
	Timestamp     string `json:"timestamp"`
	RetryAfter    int    `json:"retryAfter"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// WriteFallback serves the group's 503 fallback response.
func (g *Group) WriteFallback(w http.ResponseWriter, correlationID string) {
	message := "The requested service is temporarily unavailable."
	if g.cfg.ServiceName != "" {
		message = g.cfg.ServiceName + " is temporarily unavailable. Please retry shortly."
	}

	body := fallbackBody{
		Error:         "SERVICE_UNAVAILABLE",
		Message:       message,
		Service:       g.cfg.ServiceName,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RetryAfter:    g.cfg.RetryAfter,
		CorrelationID: correlationID,
	}

	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(g.cfg.RetryAfter))
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write(data)
}
