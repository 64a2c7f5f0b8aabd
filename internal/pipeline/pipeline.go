// Package pipeline implements the research loop: strategy generation,
// entity aggregation, evidence search, evaluation and quality analysis,
// with a single feedback edge from the quality stage back to strategy
// generation. Stages run strictly in sequence; concurrency lives only
// inside a stage, behind the bounded fan-out executor.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/research"
)

// External collaborators, narrowed to what the stages consume so tests
// can substitute fakes.

type StrategyGenerator interface {
	GenerateStrategies(ctx context.Context, goal string, feedback *research.QualityReport) ([]string, error)
}

type EntityExtractor interface {
	ExtractEntities(ctx context.Context, rawResult, goal string) ([]research.Entity, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, num int) (string, error)
	SearchSnippets(ctx context.Context, query string, num int) ([]string, error)
	SearchNews(ctx context.Context, query string, num int) ([]string, error)
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

type Judge interface {
	EvaluateEntity(ctx context.Context, entity research.Entity, evidence []string, goal string, feedback *research.EntityAnalysis) (*research.Judgement, error)
}

type QualityAnalyst interface {
	AnalyzeEntity(ctx context.Context, finding research.Finding, goal string) (*research.EntityAnalysis, error)
	SummarizeQuality(ctx context.Context, goal string, analyses []research.EntityAnalysis, stats llm.QualityStats) (*research.QualityReport, error)
}

// ProgressFunc receives stage transitions for streaming to job
// subscribers. May be nil.
type ProgressFunc func(stage string, st *research.State)

type Deps struct {
	Strategies StrategyGenerator
	Extractor  EntityExtractor
	Searcher   Searcher
	Scraper    Scraper
	Judge      Judge
	Analyst    QualityAnalyst
	Logger     *zap.Logger
}

type Orchestrator struct {
	strategies StrategyGenerator
	extractor  EntityExtractor
	searcher   Searcher
	scraper    Scraper
	judge      Judge
	analyst    QualityAnalyst
	logger     *zap.Logger
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		strategies: deps.Strategies,
		extractor:  deps.Extractor,
		searcher:   deps.Searcher,
		scraper:    deps.Scraper,
		judge:      deps.Judge,
		analyst:    deps.Analyst,
		logger:     deps.Logger,
	}
}
