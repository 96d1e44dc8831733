package api

import (
	"net/http"

	"github.com/answerd-ai/answerd/internal/ratelimit"
)

// Routes assembles the service mux. The answer and suggest routes sit
// behind the rate limiter; introspection and health do not.
func Routes(h *Handler, limiter *ratelimit.Limiter, limit ratelimit.Limit) *http.ServeMux {
	mux := http.NewServeMux()

	limited := func(next http.HandlerFunc) http.Handler {
		if limiter == nil {
			return next
		}
		return limiter.Middleware(limit, next)
	}

	mux.Handle("GET /api/answer", limited(h.Answer))
	mux.Handle("POST /api/answer", limited(h.Answer))
	mux.Handle("POST /api/answer/sync", limited(h.AnswerSync))
	mux.Handle("GET /api/suggest", limited(h.Suggest))

	mux.HandleFunc("GET /api/cache/stats", h.CacheStats)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}
