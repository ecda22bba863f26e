package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
)

// Limiter is satisfied by storage.PresenceStore.
type Limiter interface {
	CheckRateLimit(ctx context.Context, key string, max int, window time.Duration) (bool, error)
}

// RateLimit allows max requests per client IP within window and answers 429
// past that. prefix separates counters of different routes. When the limiter
// itself fails the request goes through.
func RateLimit(l Limiter, prefix string, max int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			allowed, err := l.CheckRateLimit(ctx, prefix+":"+clientIP(r), max, window)
			cancel()
			if err != nil {
				logger.Errorf("rate limit %s: %v", prefix, err)
			} else if !allowed {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
