package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/aiox-platform/companion/internal/metrics"
	"github.com/aiox-platform/companion/internal/ratelimit"
)

// Checker is satisfied by *ratelimit.Limiter.
type Checker interface {
	Check(ctx context.Context, key string) (ratelimit.Result, error)
}

// RateLimit returns an HTTP middleware enforcing a per-IP sliding window.
// On Redis errors it fails open (allows the request through).
func RateLimit(limiter Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			res, err := limiter.Check(r.Context(), ip)
			if err != nil {
				slog.Warn("rate limiter: redis error, failing open", "error", err, "ip", ip)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				metrics.RateLimitDeniedTotal.WithLabelValues("auth").Inc()
				w.Header().Set("Retry-After", strconv.Itoa(res.ResetIn))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first (trusted reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
