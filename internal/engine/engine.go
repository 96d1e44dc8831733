// Package engine orchestrates completion requests across the model catalog:
// health-ordered candidate selection, the racing streaming protocol, and the
// sequential non-streaming fallback.
package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/answerd-ai/answerd/internal/cache"
	"github.com/answerd-ai/answerd/internal/catalog"
	"github.com/answerd-ai/answerd/internal/health"
	"github.com/answerd-ai/answerd/internal/metrics"
	"github.com/answerd-ai/answerd/internal/policy"
	"github.com/answerd-ai/answerd/internal/search"
	"github.com/answerd-ai/answerd/internal/streaming"
	"github.com/answerd-ai/answerd/internal/upstream"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

// DefaultBatchSize is the racing fan-out: at most this many upstream
// requests are in flight at any instant.
const DefaultBatchSize = 2

// searchTimeout bounds the grounding lookup; grounding is best-effort.
const searchTimeout = 3 * time.Second

// groundingResults is how many search hits are folded into the prompt.
const groundingResults = 5

// Provider is the upstream completions boundary consumed by the engine.
type Provider interface {
	Complete(ctx context.Context, req upstream.Request) (string, error)
	OpenStream(ctx context.Context, req upstream.Request) (io.ReadCloser, error)
}

// Request is one completion request.
type Request struct {
	Query string
	Task  policy.Task
}

// Result is the outcome of a non-streaming completion.
type Result struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	ModelHuman string `json:"modelHuman"`
	Tier       string `json:"tier"`
	LatencyMs  int64  `json:"latencyMs"`
	Attempts   int    `json:"attempts"`
}

// Options configures an Engine.
type Options struct {
	Catalog  *catalog.CachedSource
	Health   *health.Tracker
	Provider Provider
	Cache    *cache.Cache
	Searcher search.Provider
	Logger   *slog.Logger

	// BatchSize overrides the racing fan-out; zero selects the default.
	BatchSize int
	// UpstreamRPS, when positive, paces upstream sends process-wide.
	UpstreamRPS float64
}

// Engine coordinates candidate selection and execution. Safe for concurrent
// use; it holds no locks across upstream calls.
type Engine struct {
	catalog   *catalog.CachedSource
	health    *health.Tracker
	provider  Provider
	cache     *cache.Cache
	searcher  search.Provider
	logger    *slog.Logger
	batchSize int
	pacer     *rate.Limiter
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Searcher == nil {
		opts.Searcher = search.Noop{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	var pacer *rate.Limiter
	if opts.UpstreamRPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.UpstreamRPS), opts.BatchSize)
	}
	return &Engine{
		catalog:   opts.Catalog,
		health:    opts.Health,
		provider:  opts.Provider,
		cache:     opts.Cache,
		searcher:  opts.Searcher,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
		pacer:     pacer,
	}
}

// Stream runs the racing streaming protocol and delivers events on the
// returned channel. The channel is closed when the request finishes,
// errors terminally, or ctx is cancelled; after cancellation no further
// events are delivered.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan streaming.Event {
	events := make(chan streaming.Event, 16)
	go func() {
		defer close(events)
		e.runStream(ctx, req, events)
	}()
	return events
}

func (e *Engine) runStream(ctx context.Context, req Request, events chan<- streaming.Event) {
	start := time.Now()
	pol := policy.ForTask(req.Task)

	if !emit(ctx, events, streaming.Thinking("Connecting to AI...")) {
		return
	}

	upReq := e.buildRequest(ctx, req, pol)
	cands := e.Candidates(ctx, req.Task)
	if len(cands) == 0 {
		emit(ctx, events, streaming.ErrorEvent(routeerrors.NewAllModelsFailed().Message))
		return
	}

	attempts := 0
	for i := 0; i < len(cands); i += e.batchSize {
		// Deadline is checked at batch boundaries only; a started batch
		// runs to resolution.
		if time.Since(start) > pol.GlobalDeadline {
			e.logger.Warn("global deadline exceeded", "task", req.Task, "attempts", attempts)
			emit(ctx, events, streaming.ErrorEvent(routeerrors.NewGlobalDeadline().Message))
			return
		}
		if ctx.Err() != nil {
			return
		}

		batch := cands[i:min(i+e.batchSize, len(cands))]
		winner := e.raceBatch(ctx, batch, upReq)
		attempts += len(batch)
		if winner == nil {
			continue
		}

		e.drainWinner(ctx, req, winner, events, start, attempts)
		return
	}

	if ctx.Err() != nil {
		return
	}
	e.logger.Warn("all models failed", "task", req.Task, "attempts", attempts)
	emit(ctx, events, streaming.ErrorEvent(routeerrors.NewAllModelsFailed().Message))
}

// drainWinner streams the winning attempt to completion: model_selected,
// the first captured token, then buffered re-framed upstream chunks, then
// done. The cache entry is written as a side effect of done.
func (e *Engine) drainWinner(
	ctx context.Context,
	req Request,
	w *winnerStream,
	events chan<- streaming.Event,
	start time.Time,
	attempts int,
) {
	defer w.Close()

	human := catalog.HumanName(w.cand.id)
	metrics.RecordAttempt(w.cand.id, string(w.cand.tier), "won")
	metrics.RecordTTFT(string(w.cand.tier), w.ttft)
	e.logger.Info("model selected",
		"model", w.cand.id,
		"tier", w.cand.tier,
		"ttft_ms", w.ttft.Milliseconds(),
		"attempts", attempts,
	)

	if !emit(ctx, events, streaming.ModelSelected(w.cand.id, human, string(w.cand.tier), attempts)) {
		return
	}
	if !emit(ctx, events, streaming.Token(w.first)) {
		return
	}

	var buf streaming.TokenBuffer
	full := w.first

	for w.scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		content, done := w.parser.ParseChunk(w.scanner.Bytes())
		if done {
			break
		}
		if content == "" {
			continue
		}
		full += content
		if flushed := buf.Add(content); flushed != "" {
			if !emit(ctx, events, streaming.Token(flushed)) {
				return
			}
		}
	}
	if err := w.scanner.Err(); err != nil {
		// Post-start failures degrade to an error event; the stream has
		// already begun, nothing can be thrown across it.
		if ctx.Err() != nil {
			return
		}
		e.health.RecordFailure(w.cand.id)
		e.logger.Warn("winner stream broke", "model", w.cand.id, "error", err)
		emit(ctx, events, streaming.ErrorEvent("stream interrupted"))
		return
	}

	if tail := buf.Flush(); tail != "" {
		if !emit(ctx, events, streaming.Token(tail)) {
			return
		}
	}

	latency := time.Since(start)
	if e.cache != nil {
		e.cache.Set(req.Query, cache.Answer{
			Answer:     full,
			Model:      w.cand.id,
			ModelHuman: human,
			Tier:       string(w.cand.tier),
			LatencyMs:  latency.Milliseconds(),
			Attempts:   attempts,
		}, policy.CachePrefix(req.Task))
	}

	emit(ctx, events, streaming.Done(full, w.cand.id, human, string(w.cand.tier), latency.Milliseconds(), attempts))
}

// buildRequest assembles the upstream payload, folding in best-effort
// search grounding.
func (e *Engine) buildRequest(ctx context.Context, req Request, pol policy.Policy) upstream.Request {
	prompt := req.Query
	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	if results, err := e.searcher.Search(sctx, req.Query, groundingResults); err == nil && len(results) > 0 {
		prompt = search.BuildPrompt(req.Query, results)
	} else if err != nil {
		e.logger.Debug("search grounding unavailable", "error", err)
	}

	return upstream.Request{
		Messages: []upstream.Message{
			{Role: "system", Content: systemPrompt(req.Task)},
			{Role: "user", Content: prompt},
		},
		Temperature: pol.Temperature,
		MaxTokens:   pol.MaxTokens,
	}
}

func systemPrompt(task policy.Task) string {
	switch task {
	case policy.TaskSuggestion:
		return "You complete partial search queries. Reply with short completions only, one per line, no commentary."
	case policy.TaskCode:
		return "You are a precise programming assistant. Prefer working code with minimal prose."
	default:
		return "You are a concise, factual answer engine. Answer directly in plain language."
	}
}

// emit delivers an event unless ctx is done. Returns false once the caller
// has disconnected; nothing further should be sent.
func emit(ctx context.Context, events chan<- streaming.Event, ev streaming.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- ev:
		return true
	}
}
