package trace

import (
	"net/http"
	"time"
)

// Middleware injects a trace context into every request and logs completion.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, tc := EnsureContext(r.Context())
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		Logger(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"trace_id", tc.TraceID,
		)
	})
}
