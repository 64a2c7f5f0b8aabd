package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/research"
)

// ErrPrecondition marks a stage entered with state it cannot work from.
// These fail the whole job; they are never retried.
var ErrPrecondition = errors.New("stage precondition violated")

// queryStage generates fresh search strategies from the goal, steered
// by the previous iteration's quality report when one exists. The
// strategy list is replaced whole, never merged.
func (o *Orchestrator) queryStage(ctx context.Context, st *research.State) (*research.State, error) {
	if st.Goal == "" {
		return st, fmt.Errorf("%w: research goal is empty", ErrPrecondition)
	}

	strategies, err := o.strategies.GenerateStrategies(ctx, st.Goal, st.Quality)
	if err != nil {
		return st, fmt.Errorf("strategy generation failed: %w", err)
	}
	if len(strategies) == 0 {
		return st, fmt.Errorf("strategy generation returned nothing")
	}

	o.logger.Info("Strategies generated",
		zap.Int("count", len(strategies)),
		zap.Bool("with_feedback", st.Quality != nil),
	)

	next := st.Clone()
	next.Strategies = strategies
	return next, nil
}
