package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.Routes = filterRoutes(cfg.Routes)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
func (l *Loader) expandEnvVars(s string) string {
	return l.envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// filterRoutes drops malformed route definitions with a warning. A bad route
// must never prevent the gateway from starting.
func filterRoutes(routes []RouteConfig) []RouteConfig {
	valid := routes[:0]
	seen := make(map[string]bool, len(routes))

	for _, route := range routes {
		if route.ID == "" {
			logging.Warn("Route has empty id, skipping",
				zap.String("path", route.Path))
			continue
		}
		if seen[route.ID] {
			logging.Warn("Duplicate route id, skipping",
				zap.String("route", route.ID))
			continue
		}
		if strings.TrimSpace(route.Path) == "" || strings.TrimSpace(route.URI) == "" {
			logging.Warn("Route has empty path or uri, skipping",
				zap.String("route", route.ID))
			continue
		}
		if !doublestar.ValidatePattern(route.Path) {
			logging.Warn("Route has invalid path pattern, skipping",
				zap.String("route", route.ID),
				zap.String("path", route.Path))
			continue
		}
		if bad := invalidMethod(route.Methods); bad != "" {
			logging.Warn("Route has invalid HTTP method, skipping",
				zap.String("route", route.ID),
				zap.String("method", bad))
			continue
		}
		seen[route.ID] = true
		valid = append(valid, route)
	}

	return valid
}

func invalidMethod(methods []string) string {
	for _, m := range methods {
		if !validHTTPMethods[strings.ToUpper(m)] {
			return m
		}
	}
	return ""
}

// validate checks non-route settings that must fail startup when broken.
func validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin is enabled")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if cfg.RateLimit.BurstCapacity <= 0 {
			return fmt.Errorf("rate_limit.burst_capacity must be positive")
		}
	}
	return nil
}
