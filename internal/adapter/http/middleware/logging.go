package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/bnema/transcoder/internal/infrastructure/logger"
)

// Logger logs one line per request. Probe endpoints only log at debug level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)

		next.ServeHTTP(rec, r)

		l := logger.Info
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			l = logger.Debug
		}
		l.Printf("%s %s %d %s user=%s",
			r.Method, logger.SanitizeForLog(r.URL.Path), rec.status,
			time.Since(start).Round(time.Millisecond), logger.SanitizeForLog(r.Header.Get("X-User-ID")))
	})
}

// Recovery turns a handler panic into a 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := record(w)
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.Error.Printf("panic serving %s %s: %v\n%s",
					r.Method, logger.SanitizeForLog(r.URL.Path), err, debug.Stack())
				if !rec.written {
					rec.Header().Set("Content-Type", "application/json")
					rec.WriteHeader(http.StatusInternalServerError)
					_, _ = rec.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"an unexpected error occurred"}}` + "\n"))
				}
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// BodyLimit caps request bodies at maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
