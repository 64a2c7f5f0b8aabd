// Package scrape fetches company websites and reduces them to plain
// text evidence.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/cache"
	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/pkg/logger"
)

const maxContentLen = 5000

type Scraper struct {
	httpClient *http.Client
	cache      cache.Cache
}

func NewScraper(timeoutSec int, c cache.Cache) *Scraper {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Scraper{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		cache: c,
	}
}

// Scrape returns the visible text of the page at url, capped at
// maxContentLen runes. Pages are cached for a day.
func (s *Scraper) Scrape(ctx context.Context, url string) (string, error) {
	cacheKey := cache.Key("scrape", url)
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.WithLabelValues("scrape").Inc()
			return string(data), nil
		}
		metrics.CacheMisses.WithLabelValues("scrape").Inc()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("website", "error").Inc()
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.SearchesTotal.WithLabelValues("website", "error").Inc()
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	text = strings.Join(strings.Fields(text), " ")

	if runes := []rune(text); len(runes) > maxContentLen {
		text = string(runes[:maxContentLen])
	}

	metrics.SearchesTotal.WithLabelValues("website", "ok").Inc()
	logger.Debug("Page scraped", zap.String("url", url), zap.Int("chars", len(text)))

	if s.cache != nil && text != "" {
		s.cache.Set(ctx, cacheKey, []byte(text), cache.ScrapeTTL)
	}

	return text, nil
}
