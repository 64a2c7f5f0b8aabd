// Package serper wraps the google.serper.dev search and news endpoints
// behind the cache and circuit breaker owned by the composition root.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/cache"
	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/pkg/circuitbreaker"
	"github.com/gtm-intel/backend/pkg/logger"
	"github.com/gtm-intel/backend/pkg/retry"
)

const defaultBaseURL = "https://google.serper.dev"

type Client struct {
	// BaseURL is overridable for tests.
	BaseURL string

	apiKey      string
	httpClient  *http.Client
	cache       cache.Cache
	webCB       *circuitbreaker.CircuitBreaker
	newsCB      *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey string, timeoutSec int, c cache.Cache, webCB, newsCB *circuitbreaker.CircuitBreaker) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	retryConfig := retry.SearchConfig()
	retryConfig.Logger = logger.GetLogger()
	return &Client{
		BaseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		cache:       c,
		webCB:       webCB,
		newsCB:      newsCB,
		retryConfig: retryConfig,
	}
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

type newsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type newsResponse struct {
	News []newsItem `json:"news"`
}

// Search returns one raw text block per query, in the form downstream
// extraction expects: Title / Snippet / Source URL groups.
func (c *Client) Search(ctx context.Context, query string, num int) (string, error) {
	results, err := c.searchOrganic(ctx, query, num)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, r := range results {
		if r.Title == "" && r.Snippet == "" {
			continue
		}
		fmt.Fprintf(&buf, "Title: %s\nSnippet: %s\nSource URL: %s\n\n", r.Title, r.Snippet, r.Link)
	}
	return buf.String(), nil
}

// SearchSnippets returns just the snippets, used as per-entity evidence.
func (c *Client) SearchSnippets(ctx context.Context, query string, num int) ([]string, error) {
	results, err := c.searchOrganic(ctx, query, num)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(results))
	for _, r := range results {
		if r.Snippet != "" {
			snippets = append(snippets, r.Snippet)
		}
	}
	return snippets, nil
}

func (c *Client) searchOrganic(ctx context.Context, query string, num int) ([]organicResult, error) {
	cacheKey := cache.Key("search:serper", query, fmt.Sprintf("%d", num))
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.WithLabelValues("search").Inc()
			var cached []organicResult
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("search").Inc()
	}

	var resp searchResponse
	err := c.webCB.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.post(ctx, "/search", query, num, &resp)
		})
	})
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("serper", "error").Inc()
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues("serper", "ok").Inc()

	if c.cache != nil {
		if data, err := json.Marshal(resp.Organic); err == nil {
			c.cache.Set(ctx, cacheKey, data, cache.SearchTTL)
		}
	}

	logger.Debug("Serper search completed", zap.String("query", query), zap.Int("results", len(resp.Organic)))
	return resp.Organic, nil
}

// SearchNews returns news snippets (falling back to links when a story
// has no snippet) for the query.
func (c *Client) SearchNews(ctx context.Context, query string, num int) ([]string, error) {
	cacheKey := cache.Key("search:serper_news", query, fmt.Sprintf("%d", num))
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.WithLabelValues("search").Inc()
			var cached []string
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("search").Inc()
	}

	var resp newsResponse
	err := c.newsCB.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.post(ctx, "/news", query, num, &resp)
		})
	})
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("news", "error").Inc()
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues("news", "ok").Inc()

	snippets := make([]string, 0, len(resp.News))
	for _, item := range resp.News {
		switch {
		case item.Snippet != "":
			snippets = append(snippets, item.Snippet)
		case item.Link != "":
			snippets = append(snippets, item.Link)
		}
	}

	if c.cache != nil {
		if data, err := json.Marshal(snippets); err == nil {
			c.cache.Set(ctx, cacheKey, data, cache.SearchTTL)
		}
	}

	logger.Debug("Serper news search completed", zap.String("query", query), zap.Int("results", len(snippets)))
	return snippets, nil
}

func (c *Client) post(ctx context.Context, path, query string, num int, out any) error {
	payload, err := json.Marshal(map[string]any{"q": query, "num": num})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
