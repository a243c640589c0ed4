package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/config"
	"github.com/bridgegate/gateway/internal/errors"
	"github.com/bridgegate/gateway/internal/logging"
)

// APIKeyChecker validates the static API key set on routes that require
// authentication. The key set is fixed at startup.
type APIKeyChecker struct {
	header string
	keys   map[string]bool
}

// NewAPIKeyChecker builds a checker from configuration.
func NewAPIKeyChecker(cfg config.AuthConfig) *APIKeyChecker {
	keys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = true
	}
	header := cfg.Header
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyChecker{header: header, keys: keys}
}

// Header returns the header the checker reads the key from.
func (c *APIKeyChecker) Header() string { return c.header }

// Check validates the request's API key. A missing key yields 401, an
// unknown key 403. Returns nil when the request may proceed.
func (c *APIKeyChecker) Check(r *http.Request) *errors.GatewayError {
	key := r.Header.Get(c.header)
	if key == "" {
		logging.Warn("Missing API key",
			zap.String("header", c.header),
			zap.String("path", r.URL.Path))
		return errors.ErrUnauthorized.
			WithMessage("Missing API key in header '" + c.header + "'").
			WithCorrelationID(CorrelationID(r.Context()))
	}
	if !c.keys[key] {
		logging.Warn("Invalid API key", zap.String("path", r.URL.Path))
		return errors.ErrForbidden.
			WithCorrelationID(CorrelationID(r.Context()))
	}
	return nil
}
