package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/fanout"
)

// aggregateStage discovers entities: one search per strategy, one
// extraction per search result, both fanned out under the state's
// concurrency bound. Dedup is first-seen wins in fan-out result order;
// the entity cap is applied after fan-in, so it bounds the result size
// rather than the work performed.
func (o *Orchestrator) aggregateStage(ctx context.Context, st *research.State) (*research.State, error) {
	if len(st.Strategies) == 0 {
		return st, fmt.Errorf("%w: no search strategies", ErrPrecondition)
	}

	cfg := research.ConfigForDepth(st.Depth)

	searches := fanout.Run(ctx, st.Strategies, st.MaxConcurrency,
		func(ctx context.Context, strategy string) (string, error) {
			return o.searcher.Search(ctx, strategy, cfg.NumResults)
		})

	var rawResults []string
	for i, r := range searches {
		if r.Err != nil {
			// A failed search contributes zero entities; retries
			// already happened inside the resilience layer.
			o.logger.Warn("Strategy search failed",
				zap.String("strategy", st.Strategies[i]),
				zap.Error(r.Err),
			)
			continue
		}
		if r.Value != "" {
			rawResults = append(rawResults, r.Value)
		}
	}

	extractions := fanout.Run(ctx, rawResults, st.MaxConcurrency,
		func(ctx context.Context, raw string) ([]research.Entity, error) {
			return o.extractor.ExtractEntities(ctx, raw, st.Goal)
		})

	var candidates []research.Entity
	for _, r := range extractions {
		if r.Err != nil {
			o.logger.Warn("Entity extraction failed", zap.Error(r.Err))
			continue
		}
		candidates = append(candidates, r.Value...)
	}

	next := st.Clone()
	next.Entities = research.DedupEntities(st.Entities, candidates, cfg.MaxEntities)

	admitted := len(next.Entities) - len(st.Entities)
	metrics.EntitiesDiscovered.Add(float64(admitted))
	o.logger.Info("Entities aggregated",
		zap.Int("candidates", len(candidates)),
		zap.Int("admitted", admitted),
		zap.Int("total", len(next.Entities)),
		zap.Int("cap", cfg.MaxEntities),
	)

	return next, nil
}
