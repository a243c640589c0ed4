// Package router holds the gateway route table and request dispatch.
//
// Matching is deterministic: routes are evaluated in declaration order and
// the first enabled route whose pattern and method match wins.
package router

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/config"
	"github.com/bridgegate/gateway/internal/logging"
)

// Route is one resolved forwarding rule. All fields except the enabled flag
// are immutable after construction.
type Route struct {
	ID          string
	Pattern     string
	Backend     *url.URL
	StripPrefix int
	Group       string

	// Methods is the allowed method set; empty allows every method.
	Methods map[string]bool

	// Plugins restricts pipeline execution on this route to the named
	// plugin ids; empty means all enabled plugins apply.
	Plugins []string

	AuthRequired bool

	enabled atomic.Bool
}

// Enabled reports whether the route currently accepts traffic.
func (rt *Route) Enabled() bool { return rt.enabled.Load() }

// SetEnabled toggles the route.
func (rt *Route) SetEnabled(v bool) { rt.enabled.Store(v) }

// Allows reports whether the route accepts the HTTP method.
func (rt *Route) Allows(method string) bool {
	if len(rt.Methods) == 0 {
		return true
	}
	return rt.Methods[strings.ToUpper(method)]
}

// RewritePath strips the configured number of leading path segments before
// the request is forwarded. Stripping past the end of the path yields "/".
func (rt *Route) RewritePath(path string) string {
	if rt.StripPrefix <= 0 {
		return path
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if rt.StripPrefix >= len(segments) {
		return "/"
	}
	return "/" + strings.Join(segments[rt.StripPrefix:], "/")
}

// Info is the sanitized admin view of a route. The backend URI is reduced to
// scheme, host and path so credentials or query parameters embedded in
// configuration never leak through the admin API.
type Info struct {
	ID      string   `json:"id"`
	Path    string   `json:"path"`
	URI     string   `json:"uri"`
	Methods []string `json:"methods,omitempty"`
	Plugins []string `json:"plugins,omitempty"`
	Group   string   `json:"group,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Table is the ordered route table. The slice is built once at startup and
// only the per-route enabled flags mutate afterwards, so lookups need no
// locking.
type Table struct {
	routes []*Route
	byID   map[string]*Route
}

// NewTable builds the route table from validated configuration, preserving
// declaration order. Routes whose backend URI does not parse are dropped
// with a warning.
func NewTable(configs []config.RouteConfig) *Table {
	t := &Table{byID: make(map[string]*Route, len(configs))}

	for _, rc := range configs {
		backend, err := url.Parse(rc.URI)
		if err != nil || backend.Scheme == "" || backend.Host == "" {
			logging.Warn("Route has unparseable backend uri, skipping",
				zap.String("route", rc.ID),
				zap.String("uri", rc.URI))
			continue
		}

		rt := &Route{
			ID:           rc.ID,
			Pattern:      rc.Path,
			Backend:      backend,
			StripPrefix:  rc.StripPrefix,
			Group:        rc.Group,
			Plugins:      rc.Plugins,
			AuthRequired: rc.AuthRequired,
		}
		if len(rc.Methods) > 0 {
			rt.Methods = make(map[string]bool, len(rc.Methods))
			for _, m := range rc.Methods {
				rt.Methods[strings.ToUpper(m)] = true
			}
		}
		rt.enabled.Store(rc.IsEnabled())

		t.routes = append(t.routes, rt)
		t.byID[rt.ID] = rt
		logging.Info("Registered route",
			zap.String("route", rt.ID),
			zap.String("path", rt.Pattern),
			zap.String("backend", backend.Host),
			zap.Bool("enabled", rt.Enabled()))
	}

	return t
}

// Match returns the first enabled route matching the path and method, or nil
// when no route matches.
func (t *Table) Match(path, method string) *Route {
	for _, rt := range t.routes {
		if !rt.Enabled() {
			continue
		}
		if !rt.Allows(method) {
			continue
		}
		ok, err := doublestar.Match(rt.Pattern, path)
		if err != nil || !ok {
			continue
		}
		return rt
	}
	return nil
}

// Get returns a route by id, or nil.
func (t *Table) Get(id string) *Route {
	return t.byID[id]
}

// Len returns the number of registered routes.
func (t *Table) Len() int { return len(t.routes) }

// SetEnabled toggles a route by id.
func (t *Table) SetEnabled(id string, enabled bool) error {
	rt := t.byID[id]
	if rt == nil {
		return fmt.Errorf("unknown route %q", id)
	}
	rt.SetEnabled(enabled)
	logging.Info("Route toggled",
		zap.String("route", id),
		zap.Bool("enabled", enabled))
	return nil
}

// Snapshot returns the sanitized view of every route in declaration order.
func (t *Table) Snapshot() []Info {
	out := make([]Info, 0, len(t.routes))
	for _, rt := range t.routes {
		sanitized := url.URL{
			Scheme: rt.Backend.Scheme,
			Host:   rt.Backend.Host,
			Path:   rt.Backend.Path,
		}
		var methods []string
		for m := range rt.Methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		out = append(out, Info{
			ID:      rt.ID,
			Path:    rt.Pattern,
			URI:     sanitized.String(),
			Methods: methods,
			Plugins: rt.Plugins,
			Group:   rt.Group,
			Enabled: rt.Enabled(),
		})
	}
	return out
}
