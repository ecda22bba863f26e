package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chatrelay/internal/logger"
)

// logRequest is swapped out in tests.
var logRequest = logger.LogDuration

// RequestLog logs method, chi route pattern, status and duration of every
// request. The pattern keeps /api/rooms/{roomID} as one line shape no matter
// which room was asked for.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logRequest(requestLine(r, ww.Status()), start)
	})
}

func requestLine(r *http.Request, status int) string {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	return fmt.Sprintf("http %s %s %d", r.Method, route, status)
}
