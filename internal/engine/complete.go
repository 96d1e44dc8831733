package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/answerd-ai/answerd/internal/cache"
	"github.com/answerd-ai/answerd/internal/catalog"
	"github.com/answerd-ai/answerd/internal/metrics"
	"github.com/answerd-ai/answerd/internal/policy"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

// Complete runs the sequential non-streaming variant: candidates are tried
// one at a time under the task's per-attempt timeout, transient upstream
// failures are paced with exponential backoff, and the final answer is
// written to the semantic cache.
func (e *Engine) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	pol := policy.ForTask(req.Task)
	upReq := e.buildRequest(ctx, req, pol)

	cands := e.Candidates(ctx, req.Task)
	if len(cands) == 0 {
		return nil, routeerrors.NewAllModelsFailed()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	attempts := 0
	for _, cand := range cands {
		if time.Since(start) > pol.GlobalDeadline {
			return nil, routeerrors.NewGlobalDeadline()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attempts++
		attemptReq := upReq
		attemptReq.Model = cand.id

		actx, cancel := context.WithTimeout(ctx, pol.PerAttemptTimeout)
		content, err := e.provider.Complete(actx, attemptReq)
		cancel()
		if err == nil {
			metrics.RecordAttempt(cand.id, string(cand.tier), "won")
			latency := time.Since(start)
			res := &Result{
				Content:    content,
				Model:      cand.id,
				ModelHuman: catalog.HumanName(cand.id),
				Tier:       string(cand.tier),
				LatencyMs:  latency.Milliseconds(),
				Attempts:   attempts,
			}
			if e.cache != nil {
				e.cache.Set(req.Query, cache.Answer{
					Answer:     content,
					Model:      res.Model,
					ModelHuman: res.ModelHuman,
					Tier:       res.Tier,
					LatencyMs:  res.LatencyMs,
					Attempts:   attempts,
				}, policy.CachePrefix(req.Task))
			}
			return res, nil
		}

		metrics.RecordAttempt(cand.id, string(cand.tier), "failed")
		if routeerrors.PenalizesHealth(err) {
			e.health.RecordFailure(cand.id)
		}
		e.logger.Warn("completion attempt failed", "model", cand.id, "tier", cand.tier, "error", err)

		// Transient upstream pressure gets a short pause before the next
		// candidate; model faults move on immediately.
		if routeerrors.IsTransient(err) {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, routeerrors.NewAllModelsFailed()
}
