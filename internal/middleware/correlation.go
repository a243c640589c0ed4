package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationHeader is the header carrying the request correlation id.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// Correlation ensures every request carries a correlation id. A non-blank
// incoming header is trusted and propagated; otherwise a fresh UUID is
// generated. The id is echoed on the response and forwarded upstream via the
// request header.
func Correlation() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
			if id == "" {
				id = uuid.New().String()
			}

			r.Header.Set(CorrelationHeader, id)
			w.Header().Set(CorrelationHeader, id)

			ctx := context.WithValue(r.Context(), correlationKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationID extracts the correlation id from a request context. Returns
// "" when the middleware has not run.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
