package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const healthPrefix = "/health"

// Logging writes one access line per request. Probes that succeed are not
// logged; server errors are logged at warn.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{"method": r.Method, "path": r.URL.Path})
			rec := &statusRecorder{ResponseWriter: w}
			began := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.code()
			failed := status >= http.StatusInternalServerError
			if strings.HasPrefix(r.URL.Path, healthPrefix) && !failed {
				return
			}
			ctx = logg.WithFields(ctx, accessFields(r, status, time.Since(began)))
			if failed {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}

func accessFields(r *http.Request, status int, elapsed time.Duration) map[string]any {
	fields := map[string]any{"status": status, "duration_ms": elapsed.Milliseconds()}
	if route := routePattern(r); route != r.URL.Path {
		fields["route"] = route
	}
	return fields
}

// statusRecorder remembers the status the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
