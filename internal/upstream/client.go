// Package upstream implements the HTTP client for the OpenRouter-compatible
// completions provider: single-shot JSON completions and chunked
// token-streaming responses.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/answerd-ai/answerd/internal/httputil"
	routeerrors "github.com/answerd-ai/answerd/pkg/errors"
)

// DefaultBaseURL is the default provider endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 2048

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat-completions payload.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// completionResponse is the non-streaming response shape.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Config holds client construction parameters.
type Config struct {
	BaseURL string
	APIKey  string
	// Referer and Title are the attribution headers the provider expects.
	Referer string
	Title   string
	// HTTPClient overrides the pooled default; it must not carry a global
	// timeout, streams outlive any fixed budget.
	HTTPClient *http.Client
}

// Client talks to the completions provider. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	referer string
	title   string
	http    *http.Client
}

// NewClient creates a provider client with a pooled transport.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		referer: cfg.Referer,
		title:   cfg.Title,
		http:    httpClient,
	}
}

// Complete performs a single-shot completion and returns the generated
// content. Non-2xx statuses are returned as classified RouteErrors; empty
// content is a hard failure.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	req.Stream = false

	resp, err := c.send(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", c.mapError(req.Model, resp)
	}

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return "", fmt.Errorf("read completion body: %w", err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", routeerrors.NewHardUpstream(req.Model, resp.StatusCode, "empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

// OpenStream starts a streaming completion and hands back the raw SSE body.
// The caller owns the body and must close it; cancelling ctx aborts the
// transport mid-stream.
func (c *Client) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.mapError(req.Model, resp)
	}
	return resp.Body, nil
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) mapError(model string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return routeerrors.ClassifyStatus(model, resp.StatusCode, string(bytes.TrimSpace(body)))
}
