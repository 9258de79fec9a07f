package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/mintpay/service/metrics"
)

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For address, falling back
// to the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Redis failures are
// logged and the request is let through.
func Middleware(l *Limiter, route string, keyFn KeyFunc, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := l.Allow(r.Context(), route+":"+keyFn(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"route", route,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				m.RecordRateLimitRejection(route)
				WriteRejection(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRejection writes the 429 response for a denied decision.
func WriteRejection(w http.ResponseWriter, d Decision) {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"ok":false,"error":"rate_limited"}`))
}
