// Package pipeline executes the enabled plugins for a request phase in
// sequence and folds their results into a single outcome.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
	"github.com/bridgegate/gateway/internal/plugin"
)

// DefaultPluginTimeout bounds a single plugin execution when no timeout is
// configured.
const DefaultPluginTimeout = 5 * time.Second

// Outcome is the folded result of one phase of pipeline execution.
type Outcome struct {
	// Proceed is false when a PRE_ROUTE plugin vetoed the request.
	Proceed    bool
	StatusCode int
	Body       string

	// Headers accumulates header contributions from every executed plugin,
	// including plugins that ran before a veto.
	Headers map[string]string

	// Executed lists the ids of plugins that ran, in execution order.
	Executed []string
}

// Observer is notified after each plugin execution. Used to feed metrics.
type Observer func(pluginID string, phase plugin.Phase, outcome string, elapsed time.Duration)

// Executor runs plugin phases against a registry.
//
// Execution within a request is strictly sequential: each plugin sees the
// metadata and header contributions of every plugin that ran before it.
type Executor struct {
	registry *plugin.Registry
	timeout  time.Duration
	observer Observer
}

// NewExecutor creates a pipeline executor. A non-positive timeout falls back
// to DefaultPluginTimeout.
func NewExecutor(registry *plugin.Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultPluginTimeout
	}
	return &Executor{registry: registry, timeout: timeout}
}

// SetObserver installs an execution observer.
func (e *Executor) SetObserver(obs Observer) {
	e.observer = obs
}

// RunPreRoute executes the PRE_ROUTE phase. A plugin returning proceed=false
// short-circuits the phase and vetoes the request; plugin failures never do.
func (e *Executor) RunPreRoute(ctx context.Context, r *http.Request, pc *plugin.Context) Outcome {
	return e.run(ctx, plugin.PreRoute, r, pc, nil)
}

// RunPostRoute executes the POST_ROUTE phase. The phase is observational:
// every enabled plugin runs and proceed values are ignored, but header and
// metadata contributions still apply.
func (e *Executor) RunPostRoute(ctx context.Context, r *http.Request, pc *plugin.Context) Outcome {
	return e.run(ctx, plugin.PostRoute, r, pc, nil)
}

// RunPreRouteScoped is RunPreRoute restricted to the given plugin ids. A nil
// scope means all enabled plugins.
func (e *Executor) RunPreRouteScoped(ctx context.Context, r *http.Request, pc *plugin.Context, scope []string) Outcome {
	return e.run(ctx, plugin.PreRoute, r, pc, scopeSet(scope))
}

// RunPostRouteScoped is RunPostRoute restricted to the given plugin ids.
func (e *Executor) RunPostRouteScoped(ctx context.Context, r *http.Request, pc *plugin.Context, scope []string) Outcome {
	return e.run(ctx, plugin.PostRoute, r, pc, scopeSet(scope))
}

func scopeSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (e *Executor) run(ctx context.Context, phase plugin.Phase, r *http.Request, pc *plugin.Context, scope map[string]bool) Outcome {
	outcome := Outcome{Proceed: true, Headers: make(map[string]string)}

	for _, p := range e.registry.EnabledPlugins(phase) {
		if scope != nil && !scope[p.ID()] {
			continue
		}
		if ctx.Err() != nil {
			logging.Debug("Pipeline aborted, request context done",
				zap.String("phase", string(phase)),
				zap.String("correlationId", pc.CorrelationID))
			outcome.Proceed = false
			return outcome
		}

		start := time.Now()
		res, err := e.executeOne(ctx, p, r, pc)
		elapsed := time.Since(start)

		status := "ok"
		if err != nil {
			// Plugin failures degrade to a pass-through, never to a
			// rejected request.
			status = "error"
			logging.Error("Plugin execution failed, continuing",
				zap.String("plugin", p.ID()),
				zap.String("phase", string(phase)),
				zap.String("correlationId", pc.CorrelationID),
				zap.Error(err))
			res = plugin.Proceed()
		}

		outcome.Executed = append(outcome.Executed, p.ID())
		for k, v := range res.Headers {
			outcome.Headers[k] = v
		}
		for k, v := range res.Metadata {
			pc.Metadata[k] = v
		}

		if !res.Proceed && phase == plugin.PreRoute {
			status = "vetoed"
			outcome.Proceed = false
			outcome.StatusCode = res.StatusCode
			if outcome.StatusCode == 0 {
				outcome.StatusCode = http.StatusForbidden
			}
			outcome.Body = res.Body
			logging.Info("Request vetoed by plugin",
				zap.String("plugin", p.ID()),
				zap.Int("status", outcome.StatusCode),
				zap.String("correlationId", pc.CorrelationID))
			e.observe(p.ID(), phase, status, elapsed)
			return outcome
		}
		e.observe(p.ID(), phase, status, elapsed)
	}

	return outcome
}

func (e *Executor) observe(id string, phase plugin.Phase, status string, elapsed time.Duration) {
	if e.observer != nil {
		e.observer(id, phase, status, elapsed)
	}
}

// executeOne runs a single plugin with a timeout, converting panics and
// overruns into errors. On timeout the plugin goroutine is abandoned; its
// context is cancelled so well-behaved plugins unwind promptly.
func (e *Executor) executeOne(ctx context.Context, p plugin.Plugin, r *http.Request, pc *plugin.Context) (plugin.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type reply struct {
		res plugin.Result
		err error
	}
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- reply{err: fmt.Errorf("plugin %s panicked: %v", p.ID(), rec)}
			}
		}()
		res, err := p.Execute(execCtx, r, pc)
		done <- reply{res: res, err: err}
	}()

	select {
	case rep := <-done:
		return rep.res, rep.err
	case <-execCtx.Done():
		return plugin.Result{}, fmt.Errorf("plugin %s timed out after %v", p.ID(), e.timeout)
	}
}
