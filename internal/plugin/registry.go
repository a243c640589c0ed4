package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
)

// StartupConfig is one plugin's enablement and settings from static
// configuration. Settings are opaque to the registry and interpreted only by
// the plugin instance itself.
type StartupConfig struct {
	Enabled  bool
	Settings map[string]any
}

// Status is a point-in-time view of one registered plugin.
type Status struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Phase   Phase  `json:"phase"`
	Order   int    `json:"order"`
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
}

// Registry owns the set of known plugins and their enabled/disabled state.
//
// The plugin index is built once at startup and read-only afterwards; the
// enabled set uses per-entry operations so concurrent requests toggling or
// reading unrelated plugins never contend on a shared lock.
type Registry struct {
	plugins      map[string]Plugin
	ordered      []Plugin // discovery order, used for stable sort ties
	enabled      sync.Map // plugin id -> struct{}
	checkTimeout time.Duration
}

// NewRegistry indexes the discovered plugin instances. Duplicate ids are
// dropped with a warning; the first registration wins.
func NewRegistry(plugins []Plugin) *Registry {
	r := &Registry{
		plugins:      make(map[string]Plugin, len(plugins)),
		checkTimeout: 5 * time.Second,
	}

	for _, p := range plugins {
		if _, exists := r.plugins[p.ID()]; exists {
			logging.Warn("Duplicate plugin id, ignoring later registration",
				zap.String("plugin", p.ID()))
			continue
		}
		r.plugins[p.ID()] = p
		r.ordered = append(r.ordered, p)
		logging.Info("Discovered plugin",
			zap.String("plugin", p.ID()),
			zap.String("name", p.Name()),
			zap.String("version", p.Version()),
			zap.String("phase", string(p.Phase())))
	}

	return r
}

// SetCheckTimeout overrides the per-plugin health check timeout.
func (r *Registry) SetCheckTimeout(d time.Duration) {
	if d > 0 {
		r.checkTimeout = d
	}
}

// Initialize enables every plugin marked enabled in configuration. An
// initialization failure is isolated to that plugin: it is logged and the
// plugin stays disabled while the rest continue.
func (r *Registry) Initialize(configs map[string]StartupConfig) {
	logging.Info("Initializing plugin registry",
		zap.Int("discovered", len(r.ordered)))

	for _, p := range r.ordered {
		cfg, ok := configs[p.ID()]
		if !ok || !cfg.Enabled {
			logging.Info("Plugin not enabled in configuration",
				zap.String("plugin", p.ID()))
			continue
		}

		if err := r.initializePlugin(p, cfg.Settings); err != nil {
			logging.Error("Failed to initialize plugin",
				zap.String("plugin", p.ID()),
				zap.Error(err))
			continue
		}
		r.enabled.Store(p.ID(), struct{}{})
		logging.Info("Initialized and enabled plugin",
			zap.String("plugin", p.ID()),
			zap.Int("settings", len(cfg.Settings)))
	}

	logging.Info("Plugin registry initialized",
		zap.Int("total", len(r.plugins)),
		zap.Int("enabled", r.enabledCount()))
}

// initializePlugin calls Initialize, converting a panic into an error so a
// broken plugin cannot take down startup.
func (r *Registry) initializePlugin(p Plugin, settings map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s initialize panicked: %v", p.ID(), rec)
		}
	}()
	return p.Initialize(settings)
}

// Get returns a plugin by id, or nil if unknown.
func (r *Registry) Get(id string) Plugin {
	return r.plugins[id]
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	return len(r.plugins)
}

// IsEnabled reports whether the registry currently has the plugin enabled.
func (r *Registry) IsEnabled(id string) bool {
	_, ok := r.enabled.Load(id)
	return ok
}

// EnabledPlugins returns all plugins that the registry has enabled, that
// report themselves ready, and whose phase matches the requested phase,
// sorted by ascending order. The sort is stable: ties preserve discovery
// order.
func (r *Registry) EnabledPlugins(phase Phase) []Plugin {
	var out []Plugin
	for _, p := range r.ordered {
		if !r.IsEnabled(p.ID()) {
			continue
		}
		if !p.Enabled() {
			continue
		}
		if !p.Phase().Matches(phase) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order() < out[j].Order()
	})
	return out
}

// Enable initializes a plugin with the given settings and adds it to the
// enabled set. Unknown ids and initialization failures are reported as
// errors, never as panics, and leave the registry state unchanged.
func (r *Registry) Enable(id string, settings map[string]any) error {
	p := r.plugins[id]
	if p == nil {
		logging.Warn("Cannot enable unknown plugin", zap.String("plugin", id))
		return fmt.Errorf("unknown plugin %q", id)
	}

	if err := r.initializePlugin(p, settings); err != nil {
		logging.Error("Failed to enable plugin",
			zap.String("plugin", id),
			zap.Error(err))
		return err
	}

	r.enabled.Store(id, struct{}{})
	logging.Info("Enabled plugin",
		zap.String("plugin", id),
		zap.Int("settings", len(settings)))
	return nil
}

// Disable shuts a plugin down and removes it from the enabled set. Disabling
// an unknown or already-disabled plugin is reported as an error. A failing
// shutdown leaves the plugin enabled so the inconsistency is visible on the
// next status query.
func (r *Registry) Disable(id string) error {
	p := r.plugins[id]
	if p == nil {
		logging.Warn("Cannot disable unknown plugin", zap.String("plugin", id))
		return fmt.Errorf("unknown plugin %q", id)
	}
	if !r.IsEnabled(id) {
		return fmt.Errorf("plugin %q is not enabled", id)
	}

	if err := r.shutdownPlugin(p); err != nil {
		logging.Error("Failed to disable plugin",
			zap.String("plugin", id),
			zap.Error(err))
		return err
	}

	r.enabled.Delete(id)
	logging.Info("Disabled plugin", zap.String("plugin", id))
	return nil
}

func (r *Registry) shutdownPlugin(p Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s shutdown panicked: %v", p.ID(), rec)
		}
	}()
	return p.Shutdown()
}

// Status produces a status entry for every registered plugin, invoking the
// health check sequentially. Disabled plugins are reported unhealthy without
// probing them.
func (r *Registry) Status(ctx context.Context) []Status {
	out := make([]Status, 0, len(r.ordered))
	for _, p := range r.ordered {
		out = append(out, r.statusOf(ctx, p))
	}
	return out
}

// StatusConcurrent produces the same view as Status but runs all health
// checks independently, so one slow or failing plugin cannot block the
// others.
func (r *Registry) StatusConcurrent(ctx context.Context) []Status {
	out := make([]Status, len(r.ordered))

	var wg sync.WaitGroup
	for i, p := range r.ordered {
		wg.Add(1)
		go func(i int, p Plugin) {
			defer wg.Done()
			out[i] = r.statusOf(ctx, p)
		}(i, p)
	}
	wg.Wait()

	return out
}

func (r *Registry) statusOf(ctx context.Context, p Plugin) Status {
	enabled := r.IsEnabled(p.ID()) && p.Enabled()

	healthy := false
	if enabled {
		healthy = r.SafeHealthCheck(ctx, p).Healthy
	}

	return Status{
		ID:      p.ID(),
		Name:    p.Name(),
		Version: p.Version(),
		Phase:   p.Phase(),
		Order:   p.Order(),
		Enabled: enabled,
		Healthy: healthy,
	}
}

// CheckHealth invokes a plugin's health check with a timeout. A panic during
// the check is returned as an error alongside an unhealthy result, so callers
// can distinguish a failed check from a plugin reporting itself unhealthy.
func (r *Registry) CheckHealth(ctx context.Context, p Plugin) (h Health, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Plugin health check panicked",
				zap.String("plugin", p.ID()),
				zap.Any("panic", rec))
			h = Health{Healthy: false, Details: map[string]any{"error": "health check failed"}}
			err = fmt.Errorf("plugin %s health check panicked: %v", p.ID(), rec)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	defer cancel()
	return p.HealthCheck(checkCtx), nil
}

// SafeHealthCheck is CheckHealth with the check failure folded into the
// unhealthy result.
func (r *Registry) SafeHealthCheck(ctx context.Context, p Plugin) Health {
	h, _ := r.CheckHealth(ctx, p)
	return h
}

// Shutdown disables every currently-enabled plugin. Failures are isolated
// per plugin: one failing shutdown does not prevent the others.
func (r *Registry) Shutdown() {
	logging.Info("Shutting down plugin registry")
	for _, p := range r.ordered {
		if !r.IsEnabled(p.ID()) {
			continue
		}
		if err := r.shutdownPlugin(p); err != nil {
			logging.Error("Error shutting down plugin",
				zap.String("plugin", p.ID()),
				zap.Error(err))
			continue
		}
		r.enabled.Delete(p.ID())
		logging.Info("Shut down plugin", zap.String("plugin", p.ID()))
	}
}

func (r *Registry) enabledCount() int {
	n := 0
	r.enabled.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
