package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/fanout"
)

// Quality score bands for the aggregate statistics fed to the
// summarizing call.
const (
	highQualityBand = 0.8
	lowQualityBand  = 0.5
)

// qualityStage analyzes each finding concurrently, then makes one
// summarizing call over the per-entity analyses. Any failure leaves the
// state unchanged: the loop then runs to its iteration limit instead of
// crashing the job.
func (o *Orchestrator) qualityStage(ctx context.Context, st *research.State) (*research.State, error) {
	if len(st.Findings) == 0 {
		o.logger.Warn("No findings to analyze, skipping quality stage")
		return st, nil
	}

	goal := st.Goal

	results := fanout.Run(ctx, st.Findings, st.MaxConcurrency,
		func(ctx context.Context, f research.Finding) (research.EntityAnalysis, error) {
			analysis, err := o.analyst.AnalyzeEntity(ctx, f, goal)
			if err != nil {
				return research.EntityAnalysis{}, err
			}
			return *analysis, nil
		})

	var analyses []research.EntityAnalysis
	for i, r := range results {
		if r.Err != nil {
			o.logger.Warn("Entity quality analysis failed",
				zap.String("domain", st.Findings[i].Domain),
				zap.Error(r.Err),
			)
			continue
		}
		analyses = append(analyses, r.Value)
	}

	if len(analyses) == 0 {
		o.logger.Error("Quality analysis produced nothing, keeping previous metrics")
		return st, nil
	}

	stats := aggregateStats(analyses)

	report, err := o.analyst.SummarizeQuality(ctx, goal, analyses, stats)
	if err != nil {
		o.logger.Error("Quality summarization failed, keeping previous metrics", zap.Error(err))
		return st, nil
	}
	report.EntityAnalyses = analyses

	metrics.CoverageScore.Observe(report.CoverageScore)
	metrics.QualityScore.Observe(report.QualityScore)
	o.logger.Info("Quality analyzed",
		zap.Float64("coverage_score", report.CoverageScore),
		zap.Float64("quality_score", report.QualityScore),
		zap.Int("entities_analyzed", len(analyses)),
	)

	next := st.Clone()
	next.Quality = report
	return next, nil
}

func aggregateStats(analyses []research.EntityAnalysis) llm.QualityStats {
	stats := llm.QualityStats{Total: len(analyses)}

	var qualitySum, coverageSum float64
	for _, a := range analyses {
		qualitySum += a.QualityScore
		coverageSum += a.CoverageScore
		if a.QualityScore >= highQualityBand {
			stats.HighQualityCount++
		}
		if a.QualityScore < lowQualityBand {
			stats.LowQualityCount++
		}
	}

	stats.AvgQualityScore = qualitySum / float64(len(analyses))
	stats.AvgCoverageScore = coverageSum / float64(len(analyses))
	return stats
}
