package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/answerd-ai/answerd/internal/metrics"
	"github.com/answerd-ai/answerd/internal/policy"
	"github.com/answerd-ai/answerd/internal/streaming"
	"github.com/answerd-ai/answerd/internal/upstream"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

// scannerBufSize bounds a single SSE line from upstream.
const scannerBufSize = 256 * 1024

// winnerStream is a stream that produced a first token within its deadline.
// The caller owns it and must Close it to release the connection and the
// attempt context.
type winnerStream struct {
	cand    candidate
	first   string
	ttft    time.Duration
	body    io.ReadCloser
	scanner *bufio.Scanner
	parser  *streaming.Parser
	cancel  context.CancelFunc
}

func (w *winnerStream) Close() {
	_ = w.body.Close()
	w.cancel()
}

// opened is the opener goroutine's single report: a stream that produced
// a first token, or the reason it could not.
type opened struct {
	win *winnerStream
	err error
}

type raceResult struct {
	idx  int
	win  *winnerStream
	err  error
	lost bool // cancelled because a sibling won; never penalized
}

// raceBatch launches every candidate in the batch concurrently, waits for
// the first attempt to produce a token, cancels the rest, and accounts for
// every attempt before returning. Returns nil when the whole batch failed.
func (e *Engine) raceBatch(ctx context.Context, batch []candidate, req upstream.Request) *winnerStream {
	results := make(chan raceResult, len(batch))
	cancels := make([]context.CancelFunc, len(batch))

	for i, cand := range batch {
		actx, cancel := context.WithCancel(ctx)
		cancels[i] = cancel
		attemptReq := req
		attemptReq.Model = cand.id
		go e.attempt(actx, i, cand, attemptReq, results)
	}

	var winner *winnerStream
	for range batch {
		r := <-results
		cand := batch[r.idx]
		if r.win != nil {
			// The winner owns its attempt context; Close releases it.
			r.win.cancel = cancels[r.idx]
		}
		switch {
		case r.win != nil && winner == nil:
			winner = r.win
			for j, cancel := range cancels {
				if j != r.idx {
					cancel()
				}
			}
		case r.win != nil:
			// A second attempt crossed the line before its cancellation
			// landed. It loses; its stream is released untouched.
			r.win.Close()
			metrics.RecordAttempt(cand.id, string(cand.tier), "lost")
		case r.lost:
			metrics.RecordAttempt(cand.id, string(cand.tier), "lost")
			cancels[r.idx]()
		default:
			if routeerrors.PenalizesHealth(r.err) {
				e.health.RecordFailure(cand.id)
			}
			metrics.RecordAttempt(cand.id, string(cand.tier), "failed")
			e.logger.Warn("attempt failed", "model", cand.id, "tier", cand.tier, "error", r.err)
			cancels[r.idx]()
		}
	}
	return winner
}

// attempt opens an upstream stream and races the first content token against
// the tier's time-to-first-token deadline. Exactly one result is sent.
func (e *Engine) attempt(ctx context.Context, idx int, cand candidate, req upstream.Request, results chan<- raceResult) {
	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			results <- raceResult{idx: idx, err: err, lost: true}
			return
		}
	}

	start := time.Now()
	ch := make(chan opened, 1)

	go func() {
		body, err := e.provider.OpenStream(ctx, req)
		if err != nil {
			ch <- opened{err: err}
			return
		}
		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 4096), scannerBufSize)
		parser := &streaming.Parser{}
		for sc.Scan() {
			content, done := parser.ParseChunk(sc.Bytes())
			if done {
				break
			}
			if content != "" {
				ch <- opened{win: &winnerStream{
					cand:    cand,
					first:   content,
					ttft:    time.Since(start),
					body:    body,
					scanner: sc,
					parser:  parser,
				}}
				return
			}
		}
		_ = body.Close()
		if err := sc.Err(); err != nil {
			ch <- opened{err: err}
			return
		}
		ch <- opened{err: routeerrors.NewHardUpstream(cand.id, 0, "stream ended before first token")}
	}()

	deadline := policy.TTFTDeadline(cand.tier)
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			results <- raceResult{idx: idx, err: classifyAttemptError(ctx, cand, o.err), lost: ctx.Err() != nil}
			return
		}
		results <- raceResult{idx: idx, win: o.win}
	case <-timer.C:
		go drainAbandoned(ch)
		results <- raceResult{idx: idx, err: routeerrors.NewTTFTTimeout(cand.id)}
	case <-ctx.Done():
		go drainAbandoned(ch)
		results <- raceResult{idx: idx, err: ctx.Err(), lost: true}
	}
}

// drainAbandoned reaps the opener goroutine's single send after its attempt
// was timed out or cancelled, closing any body it managed to win.
func drainAbandoned(ch <-chan opened) {
	if o := <-ch; o.win != nil {
		_ = o.win.body.Close()
	}
}

// classifyAttemptError maps transport failures into the routing error
// taxonomy. Context cancellation is not a model fault.
func classifyAttemptError(ctx context.Context, cand candidate, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	var re *routeerrors.RouteError
	if errors.As(err, &re) {
		return err
	}
	return routeerrors.NewHardUpstream(cand.id, 0, err.Error())
}
