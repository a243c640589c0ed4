// Package gateway assembles the route table, plugin pipeline, rate limiter
// and circuit breakers into the request handler served on the main listener.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/config"
	"github.com/bridgegate/gateway/internal/errors"
	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/metrics"
	"github.com/bridgegate/gateway/internal/middleware"
	"github.com/bridgegate/gateway/internal/pipeline"
	"github.com/bridgegate/gateway/internal/plugin"
	"github.com/bridgegate/gateway/internal/proxy"
	"github.com/bridgegate/gateway/internal/ratelimit"
	"github.com/bridgegate/gateway/internal/resilience"
	"github.com/bridgegate/gateway/internal/router"
)

// Gateway owns every request-path component.
type Gateway struct {
	cfg        *config.Config
	table      *router.Table
	registry   *plugin.Registry
	executor   *pipeline.Executor
	limiter    *ratelimit.Limiter
	checker    *middleware.APIKeyChecker
	forwarder  *proxy.Forwarder
	resilience *resilience.Manager
	metrics    *metrics.Collector
}

// New wires a gateway from configuration and the discovered plugin set.
func New(cfg *config.Config, plugins []plugin.Plugin) *Gateway {
	registry := plugin.NewRegistry(plugins)
	registry.Initialize(startupConfigs(cfg.Plugins))

	table := router.NewTable(cfg.Routes)

	groups := make([]string, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		groups = append(groups, rc.Group)
	}

	g := &Gateway{
		cfg:        cfg,
		table:      table,
		registry:   registry,
		executor:   pipeline.NewExecutor(registry, cfg.Pipeline.PluginTimeout),
		checker:    middleware.NewAPIKeyChecker(cfg.Auth),
		forwarder:  proxy.NewForwarder(),
		resilience: resilience.NewManager(cfg, groups),
		metrics:    metrics.NewCollector(),
	}

	if cfg.RateLimit.Enabled {
		g.limiter = ratelimit.NewLimiter(
			cfg.RateLimit.RequestsPerSecond,
			cfg.RateLimit.BurstCapacity,
			cfg.RateLimit.MaxKeys)
	}

	g.executor.SetObserver(func(id string, phase plugin.Phase, outcome string, elapsed time.Duration) {
		g.metrics.RecordPluginExecution(id, string(phase), outcome, elapsed)
	})

	return g
}

func startupConfigs(configs map[string]config.PluginConfig) map[string]plugin.StartupConfig {
	out := make(map[string]plugin.StartupConfig, len(configs))
	for id, pc := range configs {
		out[id] = plugin.StartupConfig{Enabled: pc.Enabled, Settings: pc.Settings}
	}
	return out
}

// Registry returns the plugin registry, for the admin API.
func (g *Gateway) Registry() *plugin.Registry { return g.registry }

// Table returns the route table, for the admin API.
func (g *Gateway) Table() *router.Table { return g.table }

// Resilience returns the breaker manager, for the admin API.
func (g *Gateway) Resilience() *resilience.Manager { return g.resilience }

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *metrics.Collector { return g.metrics }

// Shutdown releases plugin resources.
func (g *Gateway) Shutdown() {
	g.registry.Shutdown()
}

// Handler builds the full middleware chain around dispatch.
func (g *Gateway) Handler() http.Handler {
	chain := middleware.NewChain(middleware.Recovery()).
		Append(middleware.SizeLimit(g.cfg.Security.MaxRequestSize)).
		UseIf(g.cfg.Security.SecurityHeaders, middleware.SecurityHeaders()).
		UseIf(g.cfg.CORS.Enabled, middleware.CORS(g.cfg.CORS)).
		Append(middleware.Correlation(), middleware.AccessLog())

	return chain.Then(http.HandlerFunc(g.dispatch))
}

// dispatch is the core request path: route match, auth, rate limit,
// PRE_ROUTE pipeline, breaker-gated forward, POST_ROUTE pipeline, response.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	correlationID := middleware.CorrelationID(ctx)

	rt := g.table.Match(r.URL.Path, r.Method)
	if rt == nil {
		logging.Debug("No route matched",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		errors.ErrNotFound.WithCorrelationID(correlationID).WriteJSON(w)
		g.metrics.RecordRequest("unmatched", r.Method, http.StatusNotFound, time.Since(start))
		return
	}

	finish := func(status int) {
		g.metrics.RecordRequest(rt.ID, r.Method, status, time.Since(start))
	}

	if rt.AuthRequired {
		if authErr := g.checker.Check(r); authErr != nil {
			authErr.WriteJSON(w)
			finish(authErr.Status)
			return
		}
	}

	if g.limiter != nil {
		d := g.limiter.Check(ratelimit.KeyFor(r, g.checker.Header()))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			g.metrics.RecordRateLimited()
			errors.ErrTooManyRequests.
				WithRetryAfter(d.RetryAfter).
				WithCorrelationID(correlationID).
				WriteJSON(w)
			finish(http.StatusTooManyRequests)
			return
		}
	}

	pc := plugin.NewContext(rt.ID, correlationID)

	pre := g.executor.RunPreRouteScoped(ctx, r, pc, rt.Plugins)
	applyHeaders(w, pre.Headers)
	if !pre.Proceed {
		if ctx.Err() != nil {
			return
		}
		writeVeto(w, pre)
		finish(pre.StatusCode)
		return
	}

	group := g.resilience.Group(rt.Group)
	fwdCtx, cancel := context.WithTimeout(ctx, group.ForwardTimeout())
	defer cancel()

	resp, err := group.Execute(func() (*http.Response, error) {
		return g.forwarder.Forward(fwdCtx, rt, r)
	})
	g.metrics.SetBreakerState(group.Name(), group.State())
	if err != nil {
		logging.Warn("Forward failed, serving fallback",
			zap.String("route", rt.ID),
			zap.String("group", group.Name()),
			zap.String("correlationId", correlationID),
			zap.Error(err))
		group.WriteFallback(w, correlationID)
		finish(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("X-Gateway-Route", rt.ID)

	pc.StatusCode = resp.StatusCode
	post := g.executor.RunPostRouteScoped(ctx, r, pc, rt.Plugins)
	applyHeaders(w, post.Headers)

	if err := proxy.CopyResponse(w, resp); err != nil {
		logging.Debug("Response copy interrupted",
			zap.String("route", rt.ID),
			zap.String("correlationId", correlationID),
			zap.Error(err))
	}
	finish(resp.StatusCode)
}

func applyHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

// writeVeto serves a PRE_ROUTE rejection. A plugin-supplied body is sent
// verbatim; without one only the status and already-merged headers go out.
func writeVeto(w http.ResponseWriter, out pipeline.Outcome) {
	if out.Body != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(out.StatusCode)
		w.Write([]byte(out.Body))
		return
	}
	w.WriteHeader(out.StatusCode)
}
