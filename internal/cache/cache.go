// Package cache implements the semantic answer cache: answers keyed by a
// normalized, stoplist-filtered canonical form of the query, with TTL
// expiry and least-recently-accessed eviction.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/answerd-ai/answerd/internal/metrics"
)

const (
	// DefaultMaxSize caps live entries; inserting past it evicts the single
	// least-recently-accessed entry.
	DefaultMaxSize = 500

	// DefaultTTL is the logical lifetime of an entry. Older entries are
	// treated as absent on read even before a sweep reclaims them.
	DefaultTTL = 30 * time.Minute

	// MinAnswerLength is the shortest answer worth caching; shorter bodies
	// are treated as degenerate.
	MinAnswerLength = 50
)

// Answer is a cached completion with its provenance.
type Answer struct {
	Answer        string    `json:"answer"`
	Model         string    `json:"model"`
	ModelHuman    string    `json:"modelHuman"`
	Tier          string    `json:"tier"`
	LatencyMs     int64     `json:"latencyMs"`
	Attempts      int       `json:"attempts"`
	CachedAt      time.Time `json:"cachedAt"`
	OriginalQuery string    `json:"originalQuery"`
}

type entry struct {
	key            string
	answer         Answer
	createdAt      time.Time
	lastAccessedAt time.Time
	hitCount       int64
	elem           *list.Element
}

// Cache is the process-wide semantic cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	// access orders entries most-recently-accessed first; eviction takes
	// the back element.
	access  *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// Config holds cache construction parameters; zero values select defaults.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// New creates a semantic cache.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*entry),
		access:  list.New(),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Get returns the cached answer for the query under the task prefix, or nil
// on miss. Expired entries are reclaimed lazily here.
func (c *Cache) Get(query, taskPrefix string) *Answer {
	key := Key(query, taskPrefix)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		c.removeLocked(e)
		c.misses.Add(1)
		return nil
	}

	e.lastAccessedAt = c.now()
	e.hitCount++
	c.access.MoveToFront(e.elem)
	c.hits.Add(1)

	out := e.answer
	return &out
}

// Set stores an answer for the query. Degenerate answers (shorter than
// MinAnswerLength) are not cached. At capacity the least-recently-accessed
// entry is evicted first.
func (c *Cache) Set(query string, answer Answer, taskPrefix string) {
	if len(answer.Answer) < MinAnswerLength {
		return
	}
	key := Key(query, taskPrefix)
	now := c.now()
	answer.CachedAt = now
	answer.OriginalQuery = query

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.answer = answer
		e.createdAt = now
		e.lastAccessedAt = now
		c.access.MoveToFront(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		if back := c.access.Back(); back != nil {
			c.removeLocked(back.Value.(*entry))
			metrics.CacheEvents.WithLabelValues("eviction").Inc()
		}
	}

	e := &entry{
		key:            key,
		answer:         answer,
		createdAt:      now,
		lastAccessedAt: now,
	}
	e.elem = c.access.PushFront(e)
	c.entries[key] = e
}

// Sweep physically reclaims expired entries and returns how many were
// removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Size returns the number of live entries, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats describes cache health for the introspection endpoint.
type Stats struct {
	Size        int       `json:"size"`
	MaxSize     int       `json:"maxSize"`
	HitRate     float64   `json:"hitRate"`
	OldestEntry time.Time `json:"oldestEntry"`
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	var oldest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:        size,
		MaxSize:     c.maxSize,
		HitRate:     hitRate,
		OldestEntry: oldest,
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.access.Remove(e.elem)
}
