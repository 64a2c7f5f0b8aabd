package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/research"
)

// Stage names, also used as progress event labels.
const (
	StageQuery     = "query"
	StageAggregate = "aggregate"
	StageSearch    = "search"
	StageEvaluate  = "evaluate"
	StageQuality   = "quality"
)

// Continuation thresholds. The loop re-enters the query stage while
// either score is below its bar and the iteration budget allows.
const (
	coverageBar = 0.8
	qualityBar  = 0.7
)

// Run drives the state machine until the quality bar is met, the
// iteration budget is exhausted, a stage fails fatally, or ctx is
// cancelled. The returned state reflects everything accumulated up to
// the stopping point.
func (o *Orchestrator) Run(ctx context.Context, st *research.State, notify ProgressFunc) (*research.State, error) {
	if notify == nil {
		notify = func(string, *research.State) {}
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		var err error
		if st, err = o.timed(ctx, StageQuery, st, notify, o.queryStage); err != nil {
			return st, err
		}
		if st, err = o.timed(ctx, StageAggregate, st, notify, o.aggregateStage); err != nil {
			return st, err
		}
		if st, err = o.timed(ctx, StageSearch, st, notify, o.searchStage); err != nil {
			return st, err
		}
		if st, err = o.timed(ctx, StageEvaluate, st, notify, o.evaluateStage); err != nil {
			return st, err
		}
		// The quality stage recovers from its own failures by leaving
		// the state unchanged, so the loop can still terminate on the
		// iteration budget.
		if st, err = o.timed(ctx, StageQuality, st, notify, o.qualityStage); err != nil {
			return st, err
		}

		if !ShouldContinue(st) {
			break
		}

		o.logger.Info("Quality below threshold, looping back to query stage",
			zap.Int("iteration", st.Iteration),
			zap.Float64("coverage", coverageOf(st)),
			zap.Float64("quality", qualityOf(st)),
		)
	}

	metrics.IterationsPerJob.Observe(float64(st.Iteration))
	o.logger.Info("Research loop finished",
		zap.Int("iterations", st.Iteration),
		zap.Int("entities", len(st.Entities)),
		zap.Int("findings", len(st.Findings)),
	)

	return st, nil
}

// ShouldContinue is the loop's single continuation predicate, evaluated
// once per pass after the quality stage.
func ShouldContinue(st *research.State) bool {
	if st.Iteration >= st.MaxIterations {
		return false
	}
	return coverageOf(st) < coverageBar || qualityOf(st) < qualityBar
}

// Absent quality metrics read as zero scores, so a failed quality stage
// keeps looping until the iteration budget stops it.

func coverageOf(st *research.State) float64 {
	if st.Quality == nil {
		return 0
	}
	return st.Quality.CoverageScore
}

func qualityOf(st *research.State) float64 {
	if st.Quality == nil {
		return 0
	}
	return st.Quality.QualityScore
}

type stageFunc func(ctx context.Context, st *research.State) (*research.State, error)

func (o *Orchestrator) timed(ctx context.Context, stage string, st *research.State, notify ProgressFunc, fn stageFunc) (*research.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	notify(stage, st)
	start := time.Now()

	next, err := fn(ctx, st)

	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		o.logger.Error("Stage failed",
			zap.String("stage", stage),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return st, err
	}

	o.logger.Info("Stage completed",
		zap.String("stage", stage),
		zap.Duration("elapsed", elapsed),
		zap.Int("iteration", next.Iteration),
	)
	return next, nil
}
