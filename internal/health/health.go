// Package health tracks per-model failure counts and drives the
// circuit-breaker style eligibility policy used by candidate selection.
package health

import (
	"log/slog"
	"sync"
)

// DefaultMaxFailures is the eligibility threshold: a model with this many
// recorded failures is excluded from selection until a global reset.
const DefaultMaxFailures = 3

// Tracker is a process-wide failure counter keyed by model id.
// Counts are monotone until ResetAll. Safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	failures    map[string]int
	maxFailures int
	logger      *slog.Logger
}

// NewTracker creates a tracker with the given threshold.
// maxFailures <= 0 selects the default.
func NewTracker(maxFailures int, logger *slog.Logger) *Tracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		failures:    make(map[string]int),
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// RecordFailure increments the model's counter by exactly one, regardless
// of failure cause.
func (t *Tracker) RecordFailure(modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[modelID]++
	if t.failures[modelID] == t.maxFailures {
		t.logger.Warn("model demoted", "model", modelID, "failures", t.failures[modelID])
	}
}

// IsEligible reports whether the model is below the failure threshold.
func (t *Tracker) IsEligible(modelID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures[modelID] < t.maxFailures
}

// FailureCount returns the model's current counter. Used for health-ordered
// candidate sorting.
func (t *Tracker) FailureCount(modelID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures[modelID]
}

// ResetAll clears every counter. Called when the eligible candidate set for
// a request is empty: liveness over lockout.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.failures) > 0 {
		t.logger.Info("health tracker reset", "tracked_models", len(t.failures))
	}
	t.failures = make(map[string]int)
}

// Snapshot returns a copy of the failure map for introspection.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int, len(t.failures))
	for k, v := range t.failures {
		out[k] = v
	}
	return out
}
