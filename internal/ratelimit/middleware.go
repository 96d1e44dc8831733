package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/answerd-ai/answerd/internal/metrics"
)

// Middleware enforces the limit on every request to next, keyed by caller
// identity. Rejections get a 429 with Retry-After and X-RateLimit headers.
func (l *Limiter) Middleware(limit Limit, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.Check(ClientKey(r), limit)
		if res.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RateLimitRejections.Inc()

		retryAfter := int64(res.ResetAt.Sub(l.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", res.ResetAt.UnixMilli()))
		w.WriteHeader(http.StatusTooManyRequests)

		body, _ := json.Marshal(map[string]string{
			"error": "rate limit exceeded, try again shortly",
		})
		_, _ = w.Write(body)
	})
}
