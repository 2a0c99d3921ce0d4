package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/logger"
)

// RateLimit rejects requests from a client address whose bucket is empty
// with 429 and a Retry-After header. Run it after chi's RealIP so proxied
// clients are told apart.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			ok, retryAfter := limiter.Allow(client)
			if !ok {
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
