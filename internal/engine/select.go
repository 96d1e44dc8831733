package engine

import (
	"context"
	"sort"

	"github.com/answerd-ai/answerd/internal/catalog"
	"github.com/answerd-ai/answerd/internal/policy"
)

type candidate struct {
	id   string
	tier catalog.Tier
}

// Candidates builds the ordered attempt list for a task: the task's
// preferred tiers first, then the remaining canonical tiers, deduplicated,
// stably reordered by ascending recorded failure count, and filtered to
// eligible models. An empty eligible set triggers a global health reset
// and the full ordered list is used instead.
func (e *Engine) Candidates(ctx context.Context, task policy.Task) []candidate {
	cat := e.catalog.Refresh(ctx)
	pol := policy.ForTask(task)

	tiers := make([]catalog.Tier, 0, len(catalog.CanonicalTiers))
	seen := make(map[catalog.Tier]bool, len(catalog.CanonicalTiers))
	for _, t := range pol.PreferredTiers {
		if !seen[t] {
			seen[t] = true
			tiers = append(tiers, t)
		}
	}
	for _, t := range catalog.CanonicalTiers {
		if !seen[t] {
			seen[t] = true
			tiers = append(tiers, t)
		}
	}

	var ordered []candidate
	dedup := make(map[string]bool)
	for _, t := range tiers {
		for _, id := range cat.ByTier(t) {
			if dedup[id] {
				continue
			}
			dedup[id] = true
			ordered = append(ordered, candidate{id: id, tier: t})
		}
	}

	// Stable: equal failure counts keep tier-preference order.
	sort.SliceStable(ordered, func(i, j int) bool {
		return e.health.FailureCount(ordered[i].id) < e.health.FailureCount(ordered[j].id)
	})

	eligible := ordered[:0:0]
	for _, c := range ordered {
		if e.health.IsEligible(c.id) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 && len(ordered) > 0 {
		e.logger.Warn("no eligible models, resetting health state", "task", task)
		e.health.ResetAll()
		return ordered
	}
	return eligible
}
