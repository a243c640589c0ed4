package middleware

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/errors"
	"github.com/bridgegate/gateway/internal/logging"
)

// SizeLimit rejects requests whose declared body size exceeds maxBytes with
// 413 and caps reads on the body for requests without a Content-Length.
func SizeLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				logging.Warn("Request body exceeds limit",
					zap.Int64("contentLength", r.ContentLength),
					zap.Int64("limit", maxBytes),
					zap.String("path", r.URL.Path))
				w.Header().Set("X-Max-Request-Size", strconv.FormatInt(maxBytes, 10))
				errors.ErrPayloadTooLarge.
					WithCorrelationID(CorrelationID(r.Context())).
					WriteJSON(w)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
