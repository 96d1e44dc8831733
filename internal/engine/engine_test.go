package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/answerd-ai/answerd/internal/cache"
	"github.com/answerd-ai/answerd/internal/catalog"
	"github.com/answerd-ai/answerd/internal/health"
	"github.com/answerd-ai/answerd/internal/policy"
	"github.com/answerd-ai/answerd/internal/streaming"
	"github.com/answerd-ai/answerd/internal/upstream"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedSource serves a fixed catalog for tests.
type fixedSource struct {
	models []catalog.Descriptor
}

func (s fixedSource) Fetch(ctx context.Context) (*catalog.Catalog, error) {
	return catalog.NewCatalog(s.models), nil
}

// streamFn produces one upstream stream attempt.
type streamFn func(ctx context.Context) (io.ReadCloser, error)

// fakeProvider scripts per-model behavior and records which attempt
// contexts were cancelled.
type fakeProvider struct {
	mu        sync.Mutex
	streams   map[string]streamFn
	completes map[string]func(ctx context.Context) (string, error)
	cancelled map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		streams:   make(map[string]streamFn),
		completes: make(map[string]func(ctx context.Context) (string, error)),
		cancelled: make(map[string]bool),
	}
}

func (p *fakeProvider) OpenStream(ctx context.Context, req upstream.Request) (io.ReadCloser, error) {
	p.mu.Lock()
	fn, ok := p.streams[req.Model]
	p.mu.Unlock()
	if !ok {
		return nil, routeerrors.NewHardUpstream(req.Model, 404, "no such model")
	}
	return fn(ctx)
}

func (p *fakeProvider) Complete(ctx context.Context, req upstream.Request) (string, error) {
	p.mu.Lock()
	fn, ok := p.completes[req.Model]
	p.mu.Unlock()
	if !ok {
		return "", routeerrors.NewHardUpstream(req.Model, 404, "no such model")
	}
	return fn(ctx)
}

func (p *fakeProvider) markCancelled(model string) {
	p.mu.Lock()
	p.cancelled[model] = true
	p.mu.Unlock()
}

func (p *fakeProvider) wasCancelled(model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled[model]
}

// sseBody renders an upstream SSE stream carrying the given fragments.
func sseBody(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", f)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// hangingBody blocks every Read until the attempt context is cancelled,
// then reports the cancellation back to the fake provider.
type hangingBody struct {
	ctx   context.Context
	model string
	prov  *fakeProvider
	once  sync.Once
}

func (h *hangingBody) Read(p []byte) (int, error) {
	<-h.ctx.Done()
	h.once.Do(func() { h.prov.markCancelled(h.model) })
	return 0, h.ctx.Err()
}

func (h *hangingBody) Close() error { return nil }

func newTestEngine(t *testing.T, prov Provider, models []catalog.Descriptor) (*Engine, *health.Tracker, *cache.Cache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := health.NewTracker(health.DefaultMaxFailures, logger)
	answers := cache.New(cache.Config{})
	eng := New(Options{
		Catalog:  catalog.NewCachedSource(fixedSource{models: models}, catalog.NewStaticSource(nil), time.Hour),
		Health:   tracker,
		Provider: prov,
		Cache:    answers,
		Logger:   logger,
	})
	return eng, tracker, answers
}

func collect(t *testing.T, events <-chan streaming.Event) []streaming.Event {
	t.Helper()
	var out []streaming.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("event stream did not finish; got %d events", len(out))
		}
	}
}

func eventTypes(events []streaming.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

const longAnswer = "The capital of France is Paris, which has been the seat of government for centuries."

func TestStream_WinnerTakesAll(t *testing.T) {
	prov := newFakeProvider()
	prov.streams["slow/model-7b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return &hangingBody{ctx: ctx, model: "slow/model-7b:free", prov: prov}, nil
	}
	prov.streams["quick/model-8b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(sseBody("The capital of France is Paris, ", "which has been the seat of government ", "for centuries."))), nil
	}

	models := []catalog.Descriptor{
		{ID: "slow/model-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "quick/model-8b:free", Tier: catalog.TierFast, IsFree: true},
	}
	eng, tracker, answers := newTestEngine(t, prov, models)

	events := collect(t, eng.Stream(context.Background(), Request{Query: "what is the capital of france", Task: policy.TaskAnswer}))
	require.NotEmpty(t, events)

	assert.Equal(t, streaming.EventThinking, events[0].Type)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, streaming.EventModelSelected, events[1].Type)
	assert.Equal(t, "quick/model-8b:free", events[1].Model)
	assert.Equal(t, string(catalog.TierFast), events[1].Tier)
	assert.Equal(t, 2, events[1].Attempts)

	last := events[len(events)-1]
	require.Equal(t, streaming.EventDone, last.Type)
	assert.Equal(t, longAnswer, last.Content)

	var tokens string
	for _, ev := range events {
		if ev.Type == streaming.EventToken {
			tokens += ev.Content
		}
	}
	assert.Equal(t, longAnswer, tokens, "token events must reassemble the full answer")

	// The loser was cancelled, not penalized.
	require.Eventually(t, func() bool {
		return prov.wasCancelled("slow/model-7b:free")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, tracker.FailureCount("slow/model-7b:free"))

	// The answer landed in the cache.
	hit := answers.Get("what is the capital of france", policy.CachePrefix(policy.TaskAnswer))
	require.NotNil(t, hit)
	assert.Equal(t, longAnswer, hit.Answer)
	assert.Equal(t, "quick/model-8b:free", hit.Model)
}

func TestStream_FailoverToNextBatch(t *testing.T) {
	prov := newFakeProvider()
	fail := func(ctx context.Context) (io.ReadCloser, error) {
		return nil, routeerrors.NewHardUpstream("", 500, "boom")
	}
	prov.streams["bad/one-7b:free"] = fail
	prov.streams["bad/two-8b:free"] = fail
	prov.streams["good/backup-70b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(sseBody(longAnswer))), nil
	}

	models := []catalog.Descriptor{
		{ID: "bad/one-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "bad/two-8b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "good/backup-70b:free", Tier: catalog.TierHeavy, IsFree: true},
	}
	eng, tracker, _ := newTestEngine(t, prov, models)

	events := collect(t, eng.Stream(context.Background(), Request{Query: "anything at all", Task: policy.TaskAnswer}))

	var selected *streaming.Event
	for i := range events {
		if events[i].Type == streaming.EventModelSelected {
			selected = &events[i]
		}
	}
	require.NotNil(t, selected, "events: %v", eventTypes(events))
	assert.Equal(t, "good/backup-70b:free", selected.Model)
	assert.Equal(t, 3, selected.Attempts)

	// Hard failures in the losing batch count against health.
	assert.Equal(t, 1, tracker.FailureCount("bad/one-7b:free"))
	assert.Equal(t, 1, tracker.FailureCount("bad/two-8b:free"))
}

func TestStream_FirstTokenDeadlineFailover(t *testing.T) {
	prov := newFakeProvider()
	stall := func(model string) streamFn {
		return func(ctx context.Context) (io.ReadCloser, error) {
			return &hangingBody{ctx: ctx, model: model, prov: prov}, nil
		}
	}
	// Both fast models connect but never produce a token, so the whole
	// first batch has to run out its time-to-first-token deadline.
	prov.streams["stalled/one-7b:free"] = stall("stalled/one-7b:free")
	prov.streams["stalled/two-8b:free"] = stall("stalled/two-8b:free")
	prov.streams["good/backup-70b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(sseBody(longAnswer))), nil
	}

	models := []catalog.Descriptor{
		{ID: "stalled/one-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "stalled/two-8b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "good/backup-70b:free", Tier: catalog.TierHeavy, IsFree: true},
	}
	eng, tracker, _ := newTestEngine(t, prov, models)

	events := collect(t, eng.Stream(context.Background(), Request{Query: "anything at all", Task: policy.TaskAnswer}))

	var selected *streaming.Event
	for i := range events {
		if events[i].Type == streaming.EventModelSelected {
			selected = &events[i]
		}
	}
	require.NotNil(t, selected, "events: %v", eventTypes(events))
	assert.Equal(t, "good/backup-70b:free", selected.Model)
	assert.Equal(t, 3, selected.Attempts)

	last := events[len(events)-1]
	require.Equal(t, streaming.EventDone, last.Type)
	assert.Equal(t, longAnswer, last.Content)

	// Missing the deadline counts against the model, unlike losing a race.
	assert.Equal(t, 1, tracker.FailureCount("stalled/one-7b:free"))
	assert.Equal(t, 1, tracker.FailureCount("stalled/two-8b:free"))

	// The timed-out attempts were cancelled and their bodies reaped.
	require.Eventually(t, func() bool {
		return prov.wasCancelled("stalled/one-7b:free") && prov.wasCancelled("stalled/two-8b:free")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_AllModelsFailed(t *testing.T) {
	prov := newFakeProvider()
	prov.streams["bad/only-7b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return nil, routeerrors.NewHardUpstream("bad/only-7b:free", 500, "boom")
	}
	models := []catalog.Descriptor{{ID: "bad/only-7b:free", Tier: catalog.TierFast, IsFree: true}}
	eng, _, _ := newTestEngine(t, prov, models)

	events := collect(t, eng.Stream(context.Background(), Request{Query: "anything", Task: policy.TaskAnswer}))
	last := events[len(events)-1]
	require.Equal(t, streaming.EventError, last.Type)
	assert.NotEmpty(t, last.Error)
}

func TestStream_ClientDisconnect(t *testing.T) {
	prov := newFakeProvider()
	prov.streams["slow/model-7b:free"] = func(ctx context.Context) (io.ReadCloser, error) {
		return &hangingBody{ctx: ctx, model: "slow/model-7b:free", prov: prov}, nil
	}
	models := []catalog.Descriptor{{ID: "slow/model-7b:free", Tier: catalog.TierFast, IsFree: true}}
	eng, _, _ := newTestEngine(t, prov, models)

	ctx, cancel := context.WithCancel(context.Background())
	events := eng.Stream(ctx, Request{Query: "anything", Task: policy.TaskAnswer})

	// Read the thinking event, then walk away.
	ev := <-events
	assert.Equal(t, streaming.EventThinking, ev.Type)
	cancel()

	for range events {
	}
	require.Eventually(t, func() bool {
		return prov.wasCancelled("slow/model-7b:free")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestComplete_TransientThenSuccess(t *testing.T) {
	prov := newFakeProvider()
	prov.completes["busy/model-7b:free"] = func(ctx context.Context) (string, error) {
		return "", routeerrors.NewTransientUpstream("busy/model-7b:free", 429)
	}
	prov.completes["calm/model-8b:free"] = func(ctx context.Context) (string, error) {
		return longAnswer, nil
	}

	models := []catalog.Descriptor{
		{ID: "busy/model-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "calm/model-8b:free", Tier: catalog.TierFast, IsFree: true},
	}
	eng, tracker, answers := newTestEngine(t, prov, models)

	res, err := eng.Complete(context.Background(), Request{Query: "what is the capital of france", Task: policy.TaskAnswer})
	require.NoError(t, err)
	assert.Equal(t, "calm/model-8b:free", res.Model)
	assert.Equal(t, longAnswer, res.Content)
	assert.Equal(t, 2, res.Attempts)

	// 429 is upstream pressure, not a model fault.
	assert.Zero(t, tracker.FailureCount("busy/model-7b:free"))

	hit := answers.Get("what is the capital of france", policy.CachePrefix(policy.TaskAnswer))
	require.NotNil(t, hit)
	assert.Equal(t, longAnswer, hit.Answer)
}

func TestComplete_HardFailurePenalizes(t *testing.T) {
	prov := newFakeProvider()
	prov.completes["broken/model-7b:free"] = func(ctx context.Context) (string, error) {
		return "", routeerrors.NewHardUpstream("broken/model-7b:free", 400, "bad request")
	}
	prov.completes["calm/model-8b:free"] = func(ctx context.Context) (string, error) {
		return longAnswer, nil
	}

	models := []catalog.Descriptor{
		{ID: "broken/model-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "calm/model-8b:free", Tier: catalog.TierFast, IsFree: true},
	}
	eng, tracker, _ := newTestEngine(t, prov, models)

	res, err := eng.Complete(context.Background(), Request{Query: "anything", Task: policy.TaskAnswer})
	require.NoError(t, err)
	assert.Equal(t, "calm/model-8b:free", res.Model)
	assert.Equal(t, 1, tracker.FailureCount("broken/model-7b:free"))
}

func TestComplete_AllFailed(t *testing.T) {
	prov := newFakeProvider()
	prov.completes["bad/only-7b:free"] = func(ctx context.Context) (string, error) {
		return "", routeerrors.NewHardUpstream("bad/only-7b:free", 500, "boom")
	}
	models := []catalog.Descriptor{{ID: "bad/only-7b:free", Tier: catalog.TierFast, IsFree: true}}
	eng, _, _ := newTestEngine(t, prov, models)

	_, err := eng.Complete(context.Background(), Request{Query: "anything", Task: policy.TaskAnswer})
	var re *routeerrors.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routeerrors.TypeAllModelsFailed, re.Type)
}

func TestCandidates_HealthOrderingAndReset(t *testing.T) {
	prov := newFakeProvider()
	models := []catalog.Descriptor{
		{ID: "a/model-7b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "b/model-8b:free", Tier: catalog.TierFast, IsFree: true},
		{ID: "c/model-70b:free", Tier: catalog.TierHeavy, IsFree: true},
	}
	eng, tracker, _ := newTestEngine(t, prov, models)
	ctx := context.Background()

	// Preferred tier first, canonical order after, stable within equal counts.
	cands := eng.Candidates(ctx, policy.TaskAnswer)
	require.Len(t, cands, 3)
	assert.Equal(t, "a/model-7b:free", cands[0].id)
	assert.Equal(t, "b/model-8b:free", cands[1].id)

	// One failure pushes a model behind its healthy peers.
	tracker.RecordFailure("a/model-7b:free")
	cands = eng.Candidates(ctx, policy.TaskAnswer)
	assert.Equal(t, "b/model-8b:free", cands[0].id)

	// At the threshold the model drops out entirely.
	tracker.RecordFailure("a/model-7b:free")
	tracker.RecordFailure("a/model-7b:free")
	cands = eng.Candidates(ctx, policy.TaskAnswer)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.NotEqual(t, "a/model-7b:free", c.id)
	}

	// Exhausting every model triggers the global reset.
	for _, id := range []string{"b/model-8b:free", "c/model-70b:free"} {
		for i := 0; i < health.DefaultMaxFailures; i++ {
			tracker.RecordFailure(id)
		}
	}
	cands = eng.Candidates(ctx, policy.TaskAnswer)
	assert.Len(t, cands, 3, "reset must restore the full candidate list")
	assert.Zero(t, tracker.FailureCount("a/model-7b:free"))
}
