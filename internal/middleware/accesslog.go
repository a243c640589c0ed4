package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bridgegate/gateway/internal/logging"
)

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// AccessLog logs one ">>>" line when a request arrives and one "<<<" line
// when the response completes.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := CorrelationID(r.Context())
			logging.Info(">>> "+r.Method+" "+r.URL.RequestURI(),
				zap.String("remote", r.RemoteAddr),
				zap.String("correlationId", correlationID))

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logging.Info("<<< "+r.Method+" "+r.URL.RequestURI(),
				zap.Int("status", status),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("correlationId", correlationID))
		})
	}
}
