package catalog

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/answerd-ai/answerd/internal/httputil"
)

// DefaultTTL is how long a fetched catalog stays fresh.
const DefaultTTL = 30 * time.Minute

// fetchTimeout bounds a single remote catalog fetch.
const fetchTimeout = 5 * time.Second

// Source produces a catalog. Implementations: remote fetch, static table.
type Source interface {
	Fetch(ctx context.Context) (*Catalog, error)
}

// modelList mirrors the upstream GET /models payload.
type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		Architecture struct {
			OutputModalities []string `json:"output_modalities"`
		} `json:"architecture"`
		ContextLength int `json:"context_length"`
	} `json:"data"`
}

// RemoteSource fetches the model catalog from the upstream provider and
// retains only free, text-capable models.
type RemoteSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemoteSource creates a remote catalog source.
func NewRemoteSource(baseURL, apiKey string, client *http.Client) *RemoteSource {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &RemoteSource{baseURL: baseURL, apiKey: apiKey, client: client}
}

// Fetch retrieves and classifies the upstream catalog.
func (s *RemoteSource) Fetch(ctx context.Context) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch returned %d", resp.StatusCode)
	}

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read catalog body: %w", err)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	var models []Descriptor
	for _, m := range list.Data {
		if !isFree(m.Pricing.Prompt, m.Pricing.Completion) {
			continue
		}
		if !outputsText(m.Architecture.OutputModalities) {
			continue
		}
		id := NormalizeID(m.ID)
		models = append(models, Descriptor{
			ID:     id,
			Tier:   Classify(id),
			IsFree: true,
		})
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog fetch returned no usable models")
	}
	return NewCatalog(models), nil
}

func isFree(prompt, completion string) bool {
	return isZeroPrice(prompt) && isZeroPrice(completion)
}

// isZeroPrice accepts the upstream's string-encoded prices ("0", "0.000000").
func isZeroPrice(p string) bool {
	if p == "" {
		return false
	}
	for _, r := range p {
		if r != '0' && r != '.' {
			return false
		}
	}
	return true
}

func outputsText(modalities []string) bool {
	// Older catalog entries omit modalities entirely; treat those as text.
	if len(modalities) == 0 {
		return true
	}
	for _, m := range modalities {
		if m == "text" {
			return true
		}
	}
	return false
}

// StaticSource serves a hardcoded free-tier catalog. It is the fallback of
// last resort and never fails.
type StaticSource struct {
	models []Descriptor
}

// NewStaticSource builds a static source from model ids, classifying each.
// With no ids it serves the built-in default table.
func NewStaticSource(ids []string) *StaticSource {
	if len(ids) == 0 {
		ids = defaultStaticModels
	}
	models := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		id = NormalizeID(id)
		models = append(models, Descriptor{ID: id, Tier: Classify(id), IsFree: true})
	}
	return &StaticSource{models: models}
}

// Fetch returns the static catalog.
func (s *StaticSource) Fetch(ctx context.Context) (*Catalog, error) {
	return NewCatalog(s.models), nil
}

// defaultStaticModels is the hardcoded catalog used when the remote source
// has never succeeded.
var defaultStaticModels = []string{
	"google/gemini-2.0-flash-exp:free",
	"meta-llama/llama-3.2-3b-instruct:free",
	"mistralai/mistral-small-3.1-24b-instruct:free",
	"qwen/qwen-2.5-72b-instruct:free",
	"meta-llama/llama-3.3-70b-instruct:free",
	"deepseek/deepseek-r1:free",
	"qwen/qwen-2.5-coder-32b-instruct:free",
	"mistralai/devstral-small:free",
}

// CachedSource decorates a Source with a TTL cache and fallback policy:
// within the TTL the cached catalog is served; on refresh failure the
// previous catalog is kept, or the fallback source is consulted if no fetch
// has ever succeeded. Refresh never returns an error and never makes a
// caller wait behind another caller's fetch: one goroutine refreshes while
// the rest are served the existing catalog.
type CachedSource struct {
	mu        sync.Mutex
	primary   Source
	fallback  Source
	ttl       time.Duration
	current   *Catalog
	fetchedAt time.Time
	fetching  bool

	onRefreshError func(error)
}

// NewCachedSource wraps primary with caching, falling back to fallback.
func NewCachedSource(primary, fallback Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedSource{primary: primary, fallback: fallback, ttl: ttl}
}

// OnRefreshError registers a callback invoked when a primary fetch fails.
func (c *CachedSource) OnRefreshError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefreshError = fn
}

// Refresh returns the current catalog, fetching at most once per TTL
// window. The lock is never held across the upstream fetch: when the TTL
// has lapsed, exactly one caller fetches while concurrent callers are
// served the stale catalog (or the fallback while nothing has ever been
// fetched).
func (c *CachedSource) Refresh(ctx context.Context) *Catalog {
	c.mu.Lock()
	cur := c.current
	if cur != nil && time.Since(c.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return cur
	}
	if c.fetching {
		c.mu.Unlock()
		if cur != nil {
			// Stale but servable; the in-flight fetch will swap it.
			return cur
		}
		return c.fallbackCatalog(ctx)
	}
	c.fetching = true
	c.mu.Unlock()

	cat, err := c.primary.Fetch(ctx)

	c.mu.Lock()
	c.fetching = false
	// Successes and failures both start a TTL window so a dead upstream
	// is not hammered on every request.
	c.fetchedAt = time.Now()
	if err == nil {
		c.current = cat
		c.mu.Unlock()
		return cat
	}
	onErr := c.onRefreshError
	cur = c.current
	c.mu.Unlock()

	if onErr != nil {
		onErr(err)
	}
	if cur != nil {
		// Keep serving the stale catalog; retry next window.
		return cur
	}

	fb := c.fallbackCatalog(ctx)
	c.mu.Lock()
	if c.current == nil {
		c.current = fb
	}
	cur = c.current
	c.mu.Unlock()
	return cur
}

func (c *CachedSource) fallbackCatalog(ctx context.Context) *Catalog {
	cat, err := c.fallback.Fetch(ctx)
	if err != nil {
		// Only possible with a custom fallback; serve an empty catalog
		// rather than propagate.
		return NewCatalog(nil)
	}
	return cat
}
