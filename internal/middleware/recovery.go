package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/errors"
	"github.com/bridgegate/gateway/internal/logging"
)

// Recovery converts handler panics into 500 responses so a single broken
// request cannot take down the listener.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("Panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("correlationId", CorrelationID(r.Context())),
						zap.ByteString("stack", debug.Stack()))

					errors.ErrInternalServer.
						WithDetails(fmt.Sprintf("panic: %v", rec)).
						WithCorrelationID(CorrelationID(r.Context())).
						WriteJSON(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
