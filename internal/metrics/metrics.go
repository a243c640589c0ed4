// Package metrics exposes gateway metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks gateway metrics on a private registry so tests can build
// isolated instances.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitedTotal prometheus.Counter
	pluginExecutions *prometheus.CounterVec
	pluginDuration   *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

// NewCollector creates and registers all gateway metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by route, method and status code.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		pluginExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_plugin_executions_total",
			Help: "Plugin executions, by plugin, phase and outcome.",
		}, []string{"plugin", "phase", "outcome"}),
		pluginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_plugin_duration_seconds",
			Help:    "Plugin execution latency, by plugin.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"plugin"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state per backend group: 0 closed, 1 half-open, 2 open.",
		}, []string{"group"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitedTotal,
		c.pluginExecutions,
		c.pluginDuration,
		c.breakerState,
	)
	return c
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(route, method string, status int, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRateLimited records a request rejected with 429.
func (c *Collector) RecordRateLimited() {
	c.rateLimitedTotal.Inc()
}

// RecordPluginExecution records one plugin execution.
func (c *Collector) RecordPluginExecution(plugin, phase, outcome string, elapsed time.Duration) {
	c.pluginExecutions.WithLabelValues(plugin, phase, outcome).Inc()
	c.pluginDuration.WithLabelValues(plugin).Observe(elapsed.Seconds())
}

// SetBreakerState publishes a breaker state for a group.
func (c *Collector) SetBreakerState(group, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	c.breakerState.WithLabelValues(group).Set(v)
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
