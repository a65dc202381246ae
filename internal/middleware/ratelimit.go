package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	commandLimit  = 30
	commandWindow = time.Minute
)

// Counter is a fixed-window counter store.
type Counter interface {
	IncrWithTTL(key string, window time.Duration) (int64, error)
}

// RateLimitCommands caps command submissions per client address. Counter
// errors let the request through.
func RateLimitCommands(counter Counter) func(http.Handler) http.Handler {
	return rateLimit(counter, "commands", commandLimit, commandWindow)
}

func rateLimit(counter Counter, scope string, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + clientIP(r)
			count, err := counter.IncrWithTTL(key, window)
			if err == nil && count > limit {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
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
