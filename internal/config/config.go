package config

import (
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Admin      AdminConfig             `yaml:"admin"`
	Logging    LoggingConfig           `yaml:"logging"`
	Security   SecurityConfig          `yaml:"security"`
	CORS       CORSConfig              `yaml:"cors"`
	Auth       AuthConfig              `yaml:"auth"`
	RateLimit  RateLimitConfig         `yaml:"rate_limit"`
	Pipeline   PipelineConfig          `yaml:"pipeline"`
	Resilience ResilienceConfig        `yaml:"resilience"`
	Plugins    map[string]PluginConfig `yaml:"plugins"`
	Routes     []RouteConfig           `yaml:"routes"`
}

// ServerConfig holds the main listener settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AdminConfig holds the admin listener settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string        `yaml:"level"`
	File  LogFileConfig `yaml:"file"`
}

// LogFileConfig defines log file rotation settings (powered by lumberjack).
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SecurityConfig holds request hardening settings.
type SecurityConfig struct {
	MaxRequestSize  int64 `yaml:"max_request_size"`
	SecurityHeaders bool  `yaml:"security_headers"`
}

// CORSConfig holds cross-origin settings applied to every response.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AuthConfig holds the static API key set for the ingress check.
type AuthConfig struct {
	Header  string   `yaml:"header"`
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig holds token bucket settings shared by all keys.
// MaxKeys > 0 bounds the bucket map with LRU eviction; 0 keeps the
// original unbounded behavior.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstCapacity     int64   `yaml:"burst_capacity"`
	MaxKeys           int     `yaml:"max_keys"`
}

// PipelineConfig holds plugin pipeline execution settings.
type PipelineConfig struct {
	PluginTimeout time.Duration `yaml:"plugin_timeout"`
}

// ResilienceConfig holds circuit breaker settings per logical backend group.
type ResilienceConfig struct {
	Groups map[string]BreakerConfig `yaml:"groups"`
}

// BreakerConfig tunes one backend group's circuit breaker and fallback.
type BreakerConfig struct {
	FailureRatio   float64       `yaml:"failure_ratio"`
	MinRequests    uint32        `yaml:"min_requests"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
	HalfOpenMax    uint32        `yaml:"half_open_max"`
	ForwardTimeout time.Duration `yaml:"forward_timeout"`
	RetryAfter     int           `yaml:"retry_after"`
	ServiceName    string        `yaml:"service_name"`
}

// PluginConfig holds one plugin's startup enablement and opaque settings.
type PluginConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// RouteConfig defines one route. Declaration order in the YAML list is
// significant: the dispatcher matches routes first-declared-wins.
type RouteConfig struct {
	ID           string   `yaml:"id"`
	Path         string   `yaml:"path"`
	URI          string   `yaml:"uri"`
	StripPrefix  int      `yaml:"strip_prefix"`
	Methods      []string `yaml:"methods"`
	Plugins      []string `yaml:"plugins"`
	Group        string   `yaml:"group"`
	AuthRequired bool     `yaml:"auth_required"`
	Enabled      *bool    `yaml:"enabled"`
}

// IsEnabled reports the route's configured enabled flag, defaulting to true.
func (r RouteConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			MaxRequestSize:  10 * 1024 * 1024,
			SecurityHeaders: true,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{
				"X-Correlation-Id",
				"X-RateLimit-Remaining",
				"X-RateLimit-Limit",
				"X-Monetization-Plan",
			},
			MaxAge: 3600,
		},
		Auth: AuthConfig{
			Header: "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			BurstCapacity:     20,
		},
		Pipeline: PipelineConfig{
			PluginTimeout: 5 * time.Second,
		},
		Resilience: ResilienceConfig{
			Groups: map[string]BreakerConfig{
				"default": DefaultBreakerConfig(),
			},
		},
	}
}

// DefaultBreakerConfig returns the breaker tuning used when a backend group
// has no explicit configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRatio:   0.5,
		MinRequests:    10,
		OpenTimeout:    30 * time.Second,
		HalfOpenMax:    5,
		ForwardTimeout: 10 * time.Second,
		RetryAfter:     30,
	}
}

// BreakerFor resolves the breaker config for a group, falling back to the
// "default" group and then to built-in defaults.
func (c *Config) BreakerFor(group string) BreakerConfig {
	if cfg, ok := c.Resilience.Groups[group]; ok {
		return withBreakerDefaults(cfg)
	}
	if cfg, ok := c.Resilience.Groups["default"]; ok {
		return withBreakerDefaults(cfg)
	}
	return DefaultBreakerConfig()
}

func withBreakerDefaults(cfg BreakerConfig) BreakerConfig {
	def := DefaultBreakerConfig()
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	if cfg.ForwardTimeout == 0 {
		cfg.ForwardTimeout = def.ForwardTimeout
	}
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = def.RetryAfter
	}
	return cfg
}
