package middleware

import (
	"net/http"
	"time"

	"github.com/beamchat/internal/logger"
)

// RequestLog logs method, path and duration of every request, asynchronously.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(w, r)
	})
}
