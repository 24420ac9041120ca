package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/observability"
)

// timedWriter stamps X-Response-Time-Ms right before the header flush and
// remembers the status for metrics.
type timedWriter struct {
	http.ResponseWriter
	start   time.Time
	status  int
	written bool
}

func (w *timedWriter) WriteHeader(status int) {
	if !w.written {
		ms := time.Since(w.start).Milliseconds()
		w.Header().Set("X-Response-Time-Ms", fmt.Sprintf("%d", ms))
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// responseTimeMiddleware measures every request and feeds the RED metrics.
func responseTimeMiddleware(obs *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &timedWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
			next.ServeHTTP(tw, r)

			if obs != nil {
				attrs := []attribute.KeyValue{
					attribute.String("http.method", r.Method),
					attribute.String("http.route", r.URL.Path),
					attribute.Int("http.status_code", tw.status),
				}
				obs.RecordRequest(r.Context(), attrs...)
				obs.RecordDuration(r.Context(), time.Since(tw.start), attrs...)
			}
		})
	}
}

// clientIP strips the port; behind a proxy the first X-Forwarded-For hop
// wins.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware enforces the per-(ip, principal, method, route) budget.
// Limiter errors fail open: a broken Redis must not take the API down.
func rateLimitMiddleware(limiter auth.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			principal := ""
			if p, err := auth.GetPrincipal(r.Context()); err == nil {
				principal = p.GetID()
			}
			key := strings.Join([]string{clientIP(r), principal, r.Method, r.URL.Path}, "|")

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:     "rate_limited",
					Message:   "too many requests, slow down",
					RequestID: auth.GetRequestID(r.Context()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
