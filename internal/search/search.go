// Package search supplies web-search grounding context for prompts.
// Results are opaque to the router: ranked title/snippet/link triples
// inserted into the prompt, never interpreted beyond ordering.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"github.com/answerd-ai/answerd/internal/httputil"
)

// Result is one ranked search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Provider returns ranked grounding results for a query.
type Provider interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Config holds construction parameters for the Brave-backed provider.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// DefaultEndpoint is the Brave web search API.
const DefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider queries the Brave search API with a per-query TTL cache in
// front of it.
type BraveProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	cache    *gocache.Cache
}

// braveResponse mirrors the subset of the Brave payload we read.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

// NewBraveProvider creates a search provider.
func NewBraveProvider(cfg Config) *BraveProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &BraveProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Search returns up to count ranked results, serving repeats from cache.
func (p *BraveProvider) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 5
	}
	cacheKey := strconv.Itoa(count) + ":" + query
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.([]Result), nil
	}

	u := p.endpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Subscription-Token", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read search body: %w", err)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, count)
	for _, r := range parsed.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			Snippet: r.Description,
			Link:    r.URL,
		})
		if len(results) == count {
			break
		}
	}

	p.cache.SetDefault(cacheKey, results)
	return results, nil
}

// Noop is a Provider that returns no context. Used when search is not
// configured; grounding is best-effort.
type Noop struct{}

// Search implements Provider.
func (Noop) Search(ctx context.Context, query string, count int) ([]Result, error) {
	return nil, nil
}
