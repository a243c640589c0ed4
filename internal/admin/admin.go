// Package admin serves the management and introspection API on its own
// listener: route and plugin status, runtime toggles, health and metrics.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/gateway"
	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/plugin"
	"github.com/bridgegate/gateway/internal/router"
)

// Server is the admin API handler set.
type Server struct {
	gw      *gateway.Gateway
	version string
}

// NewServer creates the admin server for a gateway instance.
func NewServer(gw *gateway.Gateway, version string) *Server {
	return &Server{gw: gw, version: version}
}

// Handler builds the admin route tree.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodGet, "/healthz", s.healthz)
	r.Handler(http.MethodGet, "/metrics", s.gw.Metrics().Handler())

	r.HandlerFunc(http.MethodGet, "/gateway/admin/routes", s.listRoutes)
	r.POST("/gateway/admin/routes/:id/enable", s.toggleRoute(true))
	r.POST("/gateway/admin/routes/:id/disable", s.toggleRoute(false))

	r.HandlerFunc(http.MethodGet, "/gateway/admin/health", s.healthSummary)
	r.HandlerFunc(http.MethodGet, "/gateway/admin/config", s.getConfig)

	r.HandlerFunc(http.MethodGet, "/gateway/admin/plugins", s.listPlugins)
	r.GET("/gateway/admin/plugins/:id", s.getPlugin)
	r.GET("/gateway/admin/plugins/:id/health", s.pluginHealth)
	r.POST("/gateway/admin/plugins/:id/enable", s.enablePlugin)
	r.POST("/gateway/admin/plugins/:id/disable", s.disablePlugin)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type routesResponse struct {
	TotalRoutes   int           `json:"totalRoutes"`
	EnabledRoutes int           `json:"enabledRoutes"`
	Routes        []router.Info `json:"routes"`
}

func (s *Server) listRoutes(w http.ResponseWriter, _ *http.Request) {
	snap := s.gw.Table().Snapshot()
	enabled := 0
	for _, rt := range snap {
		if rt.Enabled {
			enabled++
		}
	}
	writeJSON(w, http.StatusOK, routesResponse{
		TotalRoutes:   len(snap),
		EnabledRoutes: enabled,
		Routes:        snap,
	})
}

type actionResponse struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) toggleRoute(enable bool) httprouter.Handle {
	action := "disable"
	if enable {
		action = "enable"
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		logging.Info("Admin route toggle",
			zap.String("route", id),
			zap.String("action", action))

		if err := s.gw.Table().SetEnabled(id, enable); err != nil {
			writeJSON(w, http.StatusNotFound, actionResponse{
				ID: id, Action: action, Success: false, Message: err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{
			ID: id, Action: action, Success: true,
			Message: "Route '" + id + "' " + action + "d successfully",
		})
	}
}

type pluginsSummary struct {
	Total   int             `json:"total"`
	Enabled int             `json:"enabled"`
	Healthy int             `json:"healthy"`
	Details []plugin.Status `json:"details"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	TotalRoutes   int            `json:"totalRoutes"`
	EnabledRoutes int            `json:"enabledRoutes"`
	Plugins       pluginsSummary `json:"plugins"`

	// UnhealthyPlugins names the enabled plugins dragging the status to
	// DEGRADED.
	UnhealthyPlugins []string `json:"unhealthyPlugins,omitempty"`
}

func (s *Server) healthSummary(w http.ResponseWriter, r *http.Request) {
	statuses := s.gw.Registry().StatusConcurrent(r.Context())

	summary := pluginsSummary{Total: len(statuses), Details: statuses}
	var unhealthy []string
	for _, ps := range statuses {
		if !ps.Enabled {
			continue
		}
		summary.Enabled++
		if ps.Healthy {
			summary.Healthy++
		} else {
			unhealthy = append(unhealthy, ps.ID)
		}
	}

	status := "UP"
	if len(unhealthy) > 0 {
		status = "DEGRADED"
	}

	snap := s.gw.Table().Snapshot()
	enabledRoutes := 0
	for _, rt := range snap {
		if rt.Enabled {
			enabledRoutes++
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:           status,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		TotalRoutes:      len(snap),
		EnabledRoutes:    enabledRoutes,
		Plugins:          summary,
		UnhealthyPlugins: unhealthy,
	})
}

type configResponse struct {
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Routes      []router.Info     `json:"routes"`
	PluginCount int               `json:"pluginCount"`
	Breakers    map[string]string `json:"breakers"`
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		Version:     s.version,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Routes:      s.gw.Table().Snapshot(),
		PluginCount: s.gw.Registry().Count(),
		Breakers:    s.gw.Resilience().States(),
	})
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Registry().StatusConcurrent(r.Context()))
}

type pluginDetailResponse struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name,omitempty"`
	Version string         `json:"version,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Order   int            `json:"order"`
	Enabled bool           `json:"enabled"`
	Health  *plugin.Health `json:"health,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	p := s.gw.Registry().Get(id)
	if p == nil {
		writeJSON(w, http.StatusNotFound, pluginDetailResponse{
			Error: "Plugin '" + id + "' not found",
		})
		return
	}

	health := s.gw.Registry().SafeHealthCheck(r.Context(), p)
	writeJSON(w, http.StatusOK, pluginDetailResponse{
		ID:      p.ID(),
		Name:    p.Name(),
		Version: p.Version(),
		Phase:   string(p.Phase()),
		Order:   p.Order(),
		Enabled: s.gw.Registry().IsEnabled(id) && p.Enabled(),
		Health:  &health,
	})
}

func (s *Server) pluginHealth(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	p := s.gw.Registry().Get(id)
	if p == nil {
		writeJSON(w, http.StatusNotFound, plugin.Health{
			Healthy: false,
			Details: map[string]any{"error": "Plugin '" + id + "' not found"},
		})
		return
	}
	health, err := s.gw.Registry().CheckHealth(r.Context(), p)
	if err != nil {
		// The check itself failed, as opposed to the plugin reporting
		// itself unhealthy.
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) enablePlugin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	var settings map[string]any
	if r.Body != nil {
		// An empty or absent body means enable with no settings.
		_ = json.NewDecoder(r.Body).Decode(&settings)
	}
	logging.Info("Admin plugin enable", zap.String("plugin", id))

	if err := s.gw.Registry().Enable(id, settings); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{
			ID: id, Action: "enable", Success: false, Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		ID: id, Action: "enable", Success: true,
		Message: "Plugin '" + id + "' enabled successfully",
	})
}

func (s *Server) disablePlugin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	logging.Info("Admin plugin disable", zap.String("plugin", id))

	if err := s.gw.Registry().Disable(id); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{
			ID: id, Action: "disable", Success: false, Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		ID: id, Action: "disable", Success: true,
		Message: "Plugin '" + id + "' disabled successfully",
	})
}
