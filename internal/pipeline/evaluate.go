package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/fanout"
)

// confidenceScores maps a categorical judgement to a numeric score.
// Unrecognized categories fall back to 0.5.
var confidenceScores = map[string]float64{
	"High":   0.9,
	"Medium": 0.6,
	"Low":    0.3,
}

const defaultConfidence = 0.5

// ConfidenceScore resolves a categorical confidence level.
func ConfidenceScore(level string) float64 {
	if score, ok := confidenceScores[level]; ok {
		return score
	}
	return defaultConfidence
}

// evaluateStage judges every entity that has evidence, one fan-out unit
// per entity. Entities with no evidence across all sources are skipped
// up front. Findings are replaced each iteration.
func (o *Orchestrator) evaluateStage(ctx context.Context, st *research.State) (*research.State, error) {
	type candidate struct {
		entity   research.Entity
		evidence []string
	}

	var candidates []candidate
	for _, e := range st.Entities {
		evidence := st.EvidenceFor(e.Domain)
		if len(evidence) == 0 {
			// Precondition, not an error: nothing to judge.
			o.logger.Debug("Skipping entity with no evidence", zap.String("domain", e.Domain))
			continue
		}
		candidates = append(candidates, candidate{entity: e, evidence: evidence})
	}

	goal := st.Goal
	prevReport := st.Quality

	results := fanout.Run(ctx, candidates, st.MaxConcurrency,
		func(ctx context.Context, c candidate) (research.Finding, error) {
			judgement, err := o.judge.EvaluateEntity(ctx, c.entity, c.evidence, goal, prevReport.AnalysisFor(c.entity.Domain))
			if err != nil {
				return research.Finding{}, err
			}
			return research.Finding{
				Domain:          c.entity.Domain,
				ConfidenceScore: ConfidenceScore(judgement.ConfidenceLevel),
				EvidenceCount:   len(c.evidence),
				Judgement:       *judgement,
				SignalCount:     len(judgement.Evidences),
			}, nil
		})

	var findings []research.Finding
	for i, r := range results {
		if r.Err != nil {
			o.logger.Warn("Entity evaluation failed",
				zap.String("domain", candidates[i].entity.Domain),
				zap.Error(r.Err),
			)
			continue
		}
		findings = append(findings, r.Value)
	}

	next := st.Clone()
	next.Findings = findings

	o.logger.Info("Entities evaluated",
		zap.Int("evaluated", len(candidates)),
		zap.Int("findings", len(findings)),
		zap.Int("skipped_no_evidence", len(st.Entities)-len(candidates)),
	)

	return next, nil
}
