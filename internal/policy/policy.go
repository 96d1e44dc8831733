// Package policy holds the static per-task completion policies.
package policy

import (
	"time"

	"github.com/answerd-ai/answerd/internal/catalog"
)

// Task identifies the kind of completion being requested.
type Task string

const (
	TaskSuggestion Task = "suggestion"
	TaskAnswer     Task = "answer"
	TaskCode       Task = "code"
)

// Policy is an immutable completion policy for one task kind.
type Policy struct {
	Temperature       float64
	MaxTokens         int
	PreferredTiers    []catalog.Tier
	PerAttemptTimeout time.Duration
	GlobalDeadline    time.Duration
}

// Tier-dependent time-to-first-token deadlines for the racing protocol.
const (
	TTFTFast  = 600 * time.Millisecond
	TTFTOther = 1000 * time.Millisecond
)

// TTFTDeadline returns the first-token deadline for a tier.
func TTFTDeadline(tier catalog.Tier) time.Duration {
	if tier == catalog.TierFast {
		return TTFTFast
	}
	return TTFTOther
}

var table = map[Task]Policy{
	TaskSuggestion: {
		Temperature:       0.7,
		MaxTokens:         80,
		PreferredTiers:    []catalog.Tier{catalog.TierFast},
		PerAttemptTimeout: 4 * time.Second,
		GlobalDeadline:    8 * time.Second,
	},
	TaskAnswer: {
		Temperature:       0.4,
		MaxTokens:         1024,
		PreferredTiers:    []catalog.Tier{catalog.TierFast, catalog.TierBalanced},
		PerAttemptTimeout: 12 * time.Second,
		GlobalDeadline:    30 * time.Second,
	},
	TaskCode: {
		Temperature:       0.2,
		MaxTokens:         2048,
		PreferredTiers:    []catalog.Tier{catalog.TierCode, catalog.TierBalanced},
		PerAttemptTimeout: 15 * time.Second,
		GlobalDeadline:    45 * time.Second,
	},
}

// ForTask returns the policy for the task kind. Unknown kinds get the
// answer policy.
func ForTask(task Task) Policy {
	if p, ok := table[task]; ok {
		return p
	}
	return table[TaskAnswer]
}

// CachePrefix returns the semantic-cache key prefix for the task kind.
func CachePrefix(task Task) string {
	switch task {
	case TaskSuggestion:
		return "suggest"
	case TaskCode:
		return "code"
	default:
		return "answer"
	}
}
