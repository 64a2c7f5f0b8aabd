// Package extract turns raw search text into candidate entities. The
// primary path is the LLM extractor; when its output cannot be decoded
// it falls back to NER over the raw text rather than dropping the
// whole search result.
package extract

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/logger"
)

type LLMExtractor interface {
	ExtractEntities(ctx context.Context, rawResult, goal string) ([]research.Entity, error)
}

type Extractor struct {
	llm LLMExtractor
}

func NewExtractor(l LLMExtractor) *Extractor {
	return &Extractor{llm: l}
}

func (e *Extractor) ExtractEntities(ctx context.Context, rawResult, goal string) ([]research.Entity, error) {
	entities, err := e.llm.ExtractEntities(ctx, rawResult, goal)
	if err == nil {
		return entities, nil
	}
	if errors.Is(err, llm.ErrUnparsable) {
		logger.Warn("LLM extraction unparsable, falling back to NER", zap.Error(err))
		return Heuristic(rawResult), nil
	}
	return nil, err
}

// Heuristic extracts candidates from the Title/Snippet/Source URL
// blocks of a raw search result. The domain comes from the source URL;
// the name from NER over the block text, falling back to the title.
func Heuristic(rawResult string) []research.Entity {
	var entities []research.Entity
	seen := map[string]struct{}{}

	for _, block := range strings.Split(rawResult, "\n\n") {
		var title, snippet, sourceURL string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "Title: "):
				title = strings.TrimPrefix(line, "Title: ")
			case strings.HasPrefix(line, "Snippet: "):
				snippet = strings.TrimPrefix(line, "Snippet: ")
			case strings.HasPrefix(line, "Source URL: "):
				sourceURL = strings.TrimPrefix(line, "Source URL: ")
			}
		}

		domain := domainOf(sourceURL)
		if domain == "" {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}

		name := namedEntity(title + ". " + snippet)
		if name == "" {
			name = title
		}
		if name == "" {
			continue
		}

		seen[domain] = struct{}{}
		entities = append(entities, research.Entity{
			Name:      name,
			Domain:    domain,
			SourceURL: sourceURL,
		})
	}

	return entities
}

func namedEntity(text string) string {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return ""
	}
	for _, ent := range doc.Entities() {
		if len(ent.Text) > 2 {
			return ent.Text
		}
	}
	return ""
}

func domainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}
