// Package api provides the HTTP surface of the answer service: the
// streaming answer endpoint, its non-streaming variant, suggestions, and
// cache introspection.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/answerd-ai/answerd/internal/cache"
	"github.com/answerd-ai/answerd/internal/engine"
	"github.com/answerd-ai/answerd/internal/metrics"
	"github.com/answerd-ai/answerd/internal/policy"
	"github.com/answerd-ai/answerd/internal/streaming"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

// Query length bounds, enforced after trimming, before any upstream call.
const (
	MinQueryLength = 2
	MaxQueryLength = 500
)

// Handler serves the answer API.
type Handler struct {
	engine *engine.Engine
	cache  *cache.Cache
	logger *slog.Logger
}

// NewHandler creates an API handler.
func NewHandler(eng *engine.Engine, answers *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{engine: eng, cache: answers, logger: logger}
}

// answerRequest is the POST body for the answer endpoints.
type answerRequest struct {
	Query string `json:"query"`
	Task  string `json:"task,omitempty"`
}

// extractQuery pulls the query and task out of a GET ?q= or a POST JSON
// body and validates the query bounds.
func (h *Handler) extractQuery(r *http.Request, defaultTask policy.Task) (string, policy.Task, error) {
	var query string
	task := defaultTask

	if r.Method == http.MethodPost {
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", task, routeerrors.NewValidation("invalid JSON body: " + err.Error())
		}
		query = req.Query
		if req.Task != "" {
			task = policy.Task(req.Task)
		}
	} else {
		query = r.URL.Query().Get("q")
	}

	query = strings.TrimSpace(query)
	// Bounds are in characters, not bytes, so multibyte scripts get the
	// same budget as ASCII.
	switch n := utf8.RuneCountInString(query); {
	case n < MinQueryLength:
		return "", task, routeerrors.NewValidation("query must be at least 2 characters")
	case n > MaxQueryLength:
		return "", task, routeerrors.NewValidation("query must be at most 500 characters")
	}
	return query, task, nil
}

// Answer handles GET/POST /api/answer: the streaming SSE endpoint.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	h.streamTask(w, r, policy.TaskAnswer)
}

func (h *Handler) streamTask(w http.ResponseWriter, r *http.Request, defaultTask policy.Task) {
	requestID := uuid.NewString()
	logger := h.logger.With("request_id", requestID)

	query, task, err := h.extractQuery(r, defaultTask)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// The cache is consulted before headers go out so X-Cache is accurate.
	if hit := h.cache.Get(query, policy.CachePrefix(task)); hit != nil {
		metrics.CacheEvents.WithLabelValues("hit").Inc()
		sw, err := streaming.NewWriter(w, "HIT")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		_ = sw.Send(streaming.CacheHit(hit.Answer, hit.Model, hit.ModelHuman))
		metrics.RequestsTotal.WithLabelValues(r.URL.Path, "hit").Inc()
		logger.Info("cache hit", "task", task)
		return
	}
	metrics.CacheEvents.WithLabelValues("miss").Inc()

	sw, err := streaming.NewWriter(w, "MISS")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	start := time.Now()
	status := "ok"
	for ev := range h.engine.Stream(r.Context(), engine.Request{Query: query, Task: task}) {
		if ev.Type == streaming.EventError {
			status = "error"
		}
		if err := sw.Send(ev); err != nil {
			logger.Debug("client went away mid-stream", "error", err)
			status = "disconnected"
			break
		}
	}
	metrics.RequestsTotal.WithLabelValues(r.URL.Path, status).Inc()
	logger.Info("stream finished",
		"task", task,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// AnswerSync handles POST /api/answer/sync: the non-streaming variant.
func (h *Handler) AnswerSync(w http.ResponseWriter, r *http.Request) {
	query, task, err := h.extractQuery(r, policy.TaskAnswer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if hit := h.cache.Get(query, policy.CachePrefix(task)); hit != nil {
		metrics.CacheEvents.WithLabelValues("hit").Inc()
		w.Header().Set("X-Cache", "HIT")
		h.writeJSON(w, http.StatusOK, engine.Result{
			Content:    hit.Answer,
			Model:      hit.Model,
			ModelHuman: hit.ModelHuman,
			Tier:       hit.Tier,
			LatencyMs:  hit.LatencyMs,
			Attempts:   hit.Attempts,
		})
		metrics.RequestsTotal.WithLabelValues(r.URL.Path, "hit").Inc()
		return
	}
	metrics.CacheEvents.WithLabelValues("miss").Inc()
	w.Header().Set("X-Cache", "MISS")

	res, err := h.engine.Complete(r.Context(), engine.Request{Query: query, Task: task})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.URL.Path, "error").Inc()
		h.writeError(w, r, err)
		return
	}
	metrics.RequestsTotal.WithLabelValues(r.URL.Path, "ok").Inc()
	h.writeJSON(w, http.StatusOK, res)
}

// Suggest handles GET /api/suggest: short non-streaming completions for
// partial queries.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	query, _, err := h.extractQuery(r, policy.TaskSuggestion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.engine.Complete(r.Context(), engine.Request{Query: query, Task: policy.TaskSuggestion})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.URL.Path, "error").Inc()
		h.writeError(w, r, err)
		return
	}

	suggestions := splitSuggestions(res.Content)
	metrics.RequestsTotal.WithLabelValues(r.URL.Path, "ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"model":       res.Model,
	})
}

// splitSuggestions turns the model's line-per-completion reply into a list.
func splitSuggestions(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// CacheStats handles GET /api/cache/stats. A sweep runs first so the
// report reflects only live entries.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	cleared := h.cache.Sweep()
	stats := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"size":           stats.Size,
		"maxSize":        stats.MaxSize,
		"hitRate":        stats.HitRate,
		"oldestEntry":    stats.OldestEntry,
		"clearedExpired": cleared,
		"timestamp":      time.Now().UTC(),
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	re := routeerrors.AsRouteError(err)
	h.logger.Warn("request failed",
		"path", r.URL.Path,
		"type", re.Type,
		"error", re.Message,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorDetail{Message: re.Message, Type: re.Type},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
