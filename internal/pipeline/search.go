package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/fanout"
)

// Evidence source names used as the outer key of EvidenceBySource.
const (
	SourceSerper  = "serper"
	SourceNews    = "news"
	SourceWebsite = "website"
)

type evidenceDelta struct {
	domain   string
	bySource map[string][]string
}

// searchStage collects per-entity evidence from every source. Each
// fan-out unit works on immutable inputs and returns a delta; the
// deltas are merged into the shared state once, after the fan-in
// barrier. This is also the single place the iteration counter moves.
func (o *Orchestrator) searchStage(ctx context.Context, st *research.State) (*research.State, error) {
	if len(st.Entities) == 0 {
		return st, fmt.Errorf("%w: no entities to research", ErrPrecondition)
	}

	cfg := research.ConfigForDepth(st.Depth)
	goal := st.Goal

	results := fanout.Run(ctx, st.Entities, st.MaxConcurrency,
		func(ctx context.Context, e research.Entity) (evidenceDelta, error) {
			delta := evidenceDelta{domain: e.Domain, bySource: map[string][]string{}}
			query := fmt.Sprintf("%s %s", e.Name, goal)

			if snippets, err := o.searcher.SearchSnippets(ctx, query, cfg.NumResults); err != nil {
				o.logger.Warn("Web evidence search failed",
					zap.String("domain", e.Domain), zap.Error(err))
			} else if len(snippets) > 0 {
				delta.bySource[SourceSerper] = snippets
			}

			if snippets, err := o.searcher.SearchNews(ctx, query, cfg.NumResults); err != nil {
				o.logger.Warn("News evidence search failed",
					zap.String("domain", e.Domain), zap.Error(err))
			} else if len(snippets) > 0 {
				delta.bySource[SourceNews] = snippets
			}

			if e.SourceURL != "" {
				if page, err := o.scraper.Scrape(ctx, e.SourceURL); err != nil {
					o.logger.Warn("Website scrape failed",
						zap.String("domain", e.Domain),
						zap.String("url", e.SourceURL),
						zap.Error(err))
				} else if page != "" {
					delta.bySource[SourceWebsite] = []string{page}
				}
			}

			return delta, nil
		})

	// Post-barrier merge, owned exclusively by the orchestrator.
	delta := map[string]map[string][]string{}
	for _, r := range results {
		if r.Err != nil {
			o.logger.Warn("Evidence collection aborted for entity", zap.Error(r.Err))
			continue
		}
		for source, snippets := range r.Value.bySource {
			if delta[source] == nil {
				delta[source] = map[string][]string{}
			}
			delta[source][r.Value.domain] = append(delta[source][r.Value.domain], snippets...)
		}
	}

	next := st.Clone()
	next.EvidenceBySource = research.MergeEvidence(st.EvidenceBySource, delta)
	next.Iteration = st.Iteration + 1

	o.logger.Info("Evidence collected",
		zap.Int("entities", len(st.Entities)),
		zap.Int("sources", len(next.EvidenceBySource)),
		zap.Int("iteration", next.Iteration),
	)

	return next, nil
}
