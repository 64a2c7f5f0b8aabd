package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/research"
)

// Configurable fakes for every collaborator. Zero values behave like a
// well-functioning backend discovering one entity per strategy.

type fakeStrategies struct {
	calls    int32
	feedback []*research.QualityReport
	fn       func(goal string, feedback *research.QualityReport) ([]string, error)
}

func (f *fakeStrategies) GenerateStrategies(_ context.Context, goal string, feedback *research.QualityReport) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.feedback = append(f.feedback, feedback)
	if f.fn != nil {
		return f.fn(goal, feedback)
	}
	return []string{"strategy one", "strategy two", "strategy three"}, nil
}

type fakeExtractor struct {
	fn func(rawResult, goal string) ([]research.Entity, error)
}

func (f *fakeExtractor) ExtractEntities(_ context.Context, rawResult, goal string) ([]research.Entity, error) {
	if f.fn != nil {
		return f.fn(rawResult, goal)
	}
	// One entity per raw block, derived from the text.
	slug := strings.Fields(rawResult)[len(strings.Fields(rawResult))-1]
	return []research.Entity{{Name: slug, Domain: slug + ".com"}}, nil
}

type fakeSearcher struct {
	searchFn   func(query string, num int) (string, error)
	snippetsFn func(query string, num int) ([]string, error)
	newsFn     func(query string, num int) ([]string, error)
}

func (f *fakeSearcher) Search(_ context.Context, query string, num int) (string, error) {
	if f.searchFn != nil {
		return f.searchFn(query, num)
	}
	return "results for " + strings.ReplaceAll(query, " ", "-"), nil
}

func (f *fakeSearcher) SearchSnippets(_ context.Context, query string, num int) ([]string, error) {
	if f.snippetsFn != nil {
		return f.snippetsFn(query, num)
	}
	return []string{"web evidence for " + query}, nil
}

func (f *fakeSearcher) SearchNews(_ context.Context, query string, num int) ([]string, error) {
	if f.newsFn != nil {
		return f.newsFn(query, num)
	}
	return []string{"news evidence for " + query}, nil
}

type fakeScraper struct {
	fn func(url string) (string, error)
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (string, error) {
	if f.fn != nil {
		return f.fn(url)
	}
	return "page content from " + url, nil
}

type fakeJudge struct {
	mu       sync.Mutex
	calls    int32
	feedback []*research.EntityAnalysis
	fn       func(entity research.Entity, evidence []string) (*research.Judgement, error)
}

func (f *fakeJudge) EvaluateEntity(_ context.Context, entity research.Entity, evidence []string, _ string, feedback *research.EntityAnalysis) (*research.Judgement, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.feedback = append(f.feedback, feedback)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(entity, evidence)
	}
	return &research.Judgement{
		GoalAchieved:    true,
		ConfidenceLevel: "High",
		Evidences:       []string{"signal"},
	}, nil
}

type fakeAnalyst struct {
	analyzeFn   func(finding research.Finding) (*research.EntityAnalysis, error)
	summarizeFn func(analyses []research.EntityAnalysis, stats llm.QualityStats) (*research.QualityReport, error)
}

func (f *fakeAnalyst) AnalyzeEntity(_ context.Context, finding research.Finding, _ string) (*research.EntityAnalysis, error) {
	if f.analyzeFn != nil {
		return f.analyzeFn(finding)
	}
	return &research.EntityAnalysis{Domain: finding.Domain, QualityScore: 0.9, CoverageScore: 0.9}, nil
}

func (f *fakeAnalyst) SummarizeQuality(_ context.Context, _ string, analyses []research.EntityAnalysis, stats llm.QualityStats) (*research.QualityReport, error) {
	if f.summarizeFn != nil {
		return f.summarizeFn(analyses, stats)
	}
	return &research.QualityReport{
		CoverageScore: stats.AvgCoverageScore,
		QualityScore:  stats.AvgQualityScore,
	}, nil
}

type testDeps struct {
	strategies *fakeStrategies
	extractor  *fakeExtractor
	searcher   *fakeSearcher
	scraper    *fakeScraper
	judge      *fakeJudge
	analyst    *fakeAnalyst
}

func newTestDeps() *testDeps {
	return &testDeps{
		strategies: &fakeStrategies{},
		extractor:  &fakeExtractor{},
		searcher:   &fakeSearcher{},
		scraper:    &fakeScraper{},
		judge:      &fakeJudge{},
		analyst:    &fakeAnalyst{},
	}
}

func (d *testDeps) orchestrator() *Orchestrator {
	return New(Deps{
		Strategies: d.strategies,
		Extractor:  d.extractor,
		Searcher:   d.searcher,
		Scraper:    d.scraper,
		Judge:      d.judge,
		Analyst:    d.analyst,
	})
}

func newTestState() *research.State {
	return research.NewState("find companies adopting widgets", research.DepthQuick, 4, 0.7, 3)
}

func TestShouldContinue(t *testing.T) {
	cases := []struct {
		name      string
		iteration int
		coverage  float64
		quality   float64
		want      bool
	}{
		{"low coverage keeps looping", 1, 0.5, 0.9, true},
		{"low quality keeps looping", 1, 0.9, 0.5, true},
		{"both bars met stops", 1, 0.85, 0.75, false},
		{"exact bars stop", 1, 0.8, 0.7, false},
		{"budget exhausted stops regardless", 3, 0.1, 0.1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestState()
			st.Iteration = tc.iteration
			st.Quality = &research.QualityReport{
				CoverageScore: tc.coverage,
				QualityScore:  tc.quality,
			}
			assert.Equal(t, tc.want, ShouldContinue(st))
		})
	}
}

func TestShouldContinue_NilQualityReadsAsZero(t *testing.T) {
	st := newTestState()
	st.Iteration = 1
	assert.True(t, ShouldContinue(st))

	st.Iteration = st.MaxIterations
	assert.False(t, ShouldContinue(st))
}

func TestRun_SinglePassWhenQualityBarMet(t *testing.T) {
	deps := newTestDeps()
	orch := deps.orchestrator()

	final, err := orch.Run(context.Background(), newTestState(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, final.Iteration)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deps.strategies.calls))
	assert.Len(t, final.Entities, 3)
	assert.Len(t, final.Findings, 3)
	require.NotNil(t, final.Quality)
	assert.InDelta(t, 0.9, final.Quality.CoverageScore, 1e-9)

	// One finding per entity, judged High.
	for _, f := range final.Findings {
		assert.Equal(t, 0.9, f.ConfidenceScore)
		assert.True(t, f.Judgement.GoalAchieved)
		assert.Greater(t, f.EvidenceCount, 0)
	}
}

func TestRun_LoopsUntilIterationBudgetWhenQualityLow(t *testing.T) {
	deps := newTestDeps()
	deps.analyst.analyzeFn = func(finding research.Finding) (*research.EntityAnalysis, error) {
		return &research.EntityAnalysis{Domain: finding.Domain, QualityScore: 0.2, CoverageScore: 0.3}, nil
	}
	orch := deps.orchestrator()

	final, err := orch.Run(context.Background(), newTestState(), nil)
	require.NoError(t, err)

	// Three full passes, one iteration bump per pass.
	assert.Equal(t, 3, final.Iteration)
	assert.Equal(t, int32(3), atomic.LoadInt32(&deps.strategies.calls))
}

func TestRun_QualityFeedbackReachesNextPass(t *testing.T) {
	deps := newTestDeps()
	report := &research.QualityReport{CoverageScore: 0.4, QualityScore: 0.4, Gaps: []string{"pricing"}}
	deps.analyst.summarizeFn = func(analyses []research.EntityAnalysis, _ llm.QualityStats) (*research.QualityReport, error) {
		r := *report
		return &r, nil
	}
	orch := deps.orchestrator()

	st := newTestState()
	st.MaxIterations = 2

	_, err := orch.Run(context.Background(), st, nil)
	require.NoError(t, err)

	require.Len(t, deps.strategies.feedback, 2)
	assert.Nil(t, deps.strategies.feedback[0])
	require.NotNil(t, deps.strategies.feedback[1])
	assert.Equal(t, []string{"pricing"}, deps.strategies.feedback[1].Gaps)
}

func TestRun_QualityStageFailureFallsThroughToBudget(t *testing.T) {
	deps := newTestDeps()
	deps.analyst.summarizeFn = func([]research.EntityAnalysis, llm.QualityStats) (*research.QualityReport, error) {
		return nil, errors.New("summarizer down")
	}
	orch := deps.orchestrator()

	st := newTestState()
	st.MaxIterations = 2

	final, err := orch.Run(context.Background(), st, nil)
	require.NoError(t, err)

	// No quality metrics ever land, so the loop runs its full budget.
	assert.Nil(t, final.Quality)
	assert.Equal(t, 2, final.Iteration)
}

func TestRun_EmptyGoalFailsPrecondition(t *testing.T) {
	orch := newTestDeps().orchestrator()

	st := newTestState()
	st.Goal = ""

	_, err := orch.Run(context.Background(), st, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestRun_NoEntitiesFailsPrecondition(t *testing.T) {
	deps := newTestDeps()
	deps.extractor.fn = func(string, string) ([]research.Entity, error) {
		return nil, nil
	}
	orch := deps.orchestrator()

	_, err := orch.Run(context.Background(), newTestState(), nil)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestRun_CancellationStopsBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	deps := newTestDeps()
	deps.strategies.fn = func(string, *research.QualityReport) ([]string, error) {
		cancel()
		return []string{"strategy"}, nil
	}
	orch := deps.orchestrator()

	st, err := orch.Run(ctx, newTestState(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	// State from completed stages is preserved.
	assert.Equal(t, []string{"strategy"}, st.Strategies)
	assert.Zero(t, st.Iteration)
}

func TestRun_NotifiesStageTransitions(t *testing.T) {
	orch := newTestDeps().orchestrator()

	var stages []string
	_, err := orch.Run(context.Background(), newTestState(), func(stage string, _ *research.State) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StageQuery, StageAggregate, StageSearch, StageEvaluate, StageQuality}, stages)
}

func TestConfidenceScore(t *testing.T) {
	assert.Equal(t, 0.9, ConfidenceScore("High"))
	assert.Equal(t, 0.6, ConfidenceScore("Medium"))
	assert.Equal(t, 0.3, ConfidenceScore("Low"))
	assert.Equal(t, 0.5, ConfidenceScore("Unsure"))
	assert.Equal(t, 0.5, ConfidenceScore(""))
}

func TestRun_InputStateIsNotMutated(t *testing.T) {
	orch := newTestDeps().orchestrator()

	st := newTestState()
	final, err := orch.Run(context.Background(), st, nil)
	require.NoError(t, err)

	assert.Zero(t, st.Iteration)
	assert.Empty(t, st.Strategies)
	assert.Empty(t, st.Entities)
	assert.NotSame(t, st, final)
}

func TestRun_EntitiesWithoutEvidenceAreSkipped(t *testing.T) {
	deps := newTestDeps()
	deps.searcher.snippetsFn = func(string, int) ([]string, error) { return nil, nil }
	deps.searcher.newsFn = func(string, int) ([]string, error) { return nil, nil }
	orch := deps.orchestrator()

	final, err := orch.Run(context.Background(), newTestState(), nil)
	require.NoError(t, err)

	// Nothing to judge: skipping is a precondition, not a failure.
	assert.Equal(t, int32(0), atomic.LoadInt32(&deps.judge.calls))
	assert.Empty(t, final.Findings)
	assert.Len(t, final.Entities, 3)

	// No findings means no quality metrics, so the loop runs its full
	// iteration budget.
	assert.Nil(t, final.Quality)
	assert.Equal(t, 3, final.Iteration)
}

func TestRun_FailedSearchContributesZeroEntities(t *testing.T) {
	deps := newTestDeps()
	var n int32
	deps.searcher.searchFn = func(query string, _ int) (string, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			return "", errors.New("provider down")
		}
		return "results for " + strings.ReplaceAll(query, " ", "-"), nil
	}
	orch := deps.orchestrator()

	final, err := orch.Run(context.Background(), newTestState(), nil)
	require.NoError(t, err)

	// Two of three strategy searches survived.
	assert.Len(t, final.Entities, 2)
}
