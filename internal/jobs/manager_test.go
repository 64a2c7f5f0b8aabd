package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/pipeline"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/internal/storage/models"
)

// Minimal pipeline collaborators: one strategy, one entity, judged High
// with strong quality scores, so a run finishes in a single pass.

type happyBackend struct {
	block chan struct{} // when set, strategy generation waits on it
}

func (b *happyBackend) GenerateStrategies(ctx context.Context, _ string, _ *research.QualityReport) ([]string, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []string{"strategy"}, nil
}

func (b *happyBackend) ExtractEntities(context.Context, string, string) ([]research.Entity, error) {
	return []research.Entity{{Name: "Acme", Domain: "acme.com"}}, nil
}

func (b *happyBackend) Search(context.Context, string, int) (string, error) {
	return "Title: Acme\nSnippet: widgets\nSource URL: https://acme.com\n\n", nil
}

func (b *happyBackend) SearchSnippets(context.Context, string, int) ([]string, error) {
	return []string{"snippet"}, nil
}

func (b *happyBackend) SearchNews(context.Context, string, int) ([]string, error) {
	return []string{"news"}, nil
}

func (b *happyBackend) Scrape(context.Context, string) (string, error) {
	return "page", nil
}

func (b *happyBackend) EvaluateEntity(context.Context, research.Entity, []string, string, *research.EntityAnalysis) (*research.Judgement, error) {
	return &research.Judgement{GoalAchieved: true, ConfidenceLevel: "High"}, nil
}

func (b *happyBackend) AnalyzeEntity(_ context.Context, f research.Finding, _ string) (*research.EntityAnalysis, error) {
	return &research.EntityAnalysis{Domain: f.Domain, QualityScore: 0.9, CoverageScore: 0.9}, nil
}

func (b *happyBackend) SummarizeQuality(_ context.Context, _ string, _ []research.EntityAnalysis, stats llm.QualityStats) (*research.QualityReport, error) {
	return &research.QualityReport{CoverageScore: stats.AvgCoverageScore, QualityScore: stats.AvgQualityScore}, nil
}

type recordingStore struct {
	mu       sync.Mutex
	saved    []*models.ResearchJob
	statuses []string // status per UpdateJobStatus call
	results  []string // status per SaveResult call
	done     chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{done: make(chan struct{}, 4)}
}

func (s *recordingStore) SaveJob(job *models.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, job)
	return nil
}

func (s *recordingStore) UpdateJobStatus(_ string, status, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *recordingStore) SaveResult(_ string, status, _ string, _ *research.State) error {
	s.mu.Lock()
	s.results = append(s.results, status)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func newTestManager(backend *happyBackend, store Store) *Manager {
	orch := pipeline.New(pipeline.Deps{
		Strategies: backend,
		Extractor:  backend,
		Searcher:   backend,
		Scraper:    backend,
		Judge:      backend,
		Analyst:    backend,
	})
	return NewManager(orch, store, nil)
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, ok := m.Get(id)
		require.True(t, ok)
		if job.Status == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached status %s (stuck at %s)", id, want, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_SubmitRunsToCompletion(t *testing.T) {
	store := newRecordingStore()
	m := newTestManager(&happyBackend{}, store)

	job := m.Submit(SubmitRequest{
		Goal:          "find widget adopters",
		Depth:         research.DepthQuick,
		MaxIterations: 3,
	})
	require.NotEmpty(t, job.ID)

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, "Completed", done.CurrentStep)
	assert.Equal(t, float64(1), done.Progress)
	require.NotNil(t, done.State)
	assert.Equal(t, 1, done.State.Iteration)
	assert.Len(t, done.State.Findings, 1)

	// Submission row written synchronously, result fire-and-forget.
	select {
	case <-store.done:
	case <-time.After(5 * time.Second):
		t.Fatal("SaveResult never called")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, job.ID, store.saved[0].ID)
	assert.Equal(t, []string{"processing"}, store.statuses)
	assert.Equal(t, []string{"completed"}, store.results)
}

func TestManager_SubscribeStreamsUntilDone(t *testing.T) {
	backend := &happyBackend{block: make(chan struct{})}
	m := newTestManager(backend, nil)

	job := m.Submit(SubmitRequest{Goal: "goal", Depth: research.DepthQuick, MaxIterations: 1})

	events, unsubscribe, ok := m.Subscribe(job.ID)
	require.True(t, ok)
	defer unsubscribe()

	// Unblock the pipeline now that we're listening.
	close(backend.block)

	var last Event
	for event := range events {
		last = event
	}
	assert.Equal(t, "done", last.Type)
	assert.Empty(t, last.Error)
	assert.Equal(t, float64(1), last.Progress)
}

func TestManager_SubscribeUnknownJob(t *testing.T) {
	m := newTestManager(&happyBackend{}, nil)
	_, _, ok := m.Subscribe("nope")
	assert.False(t, ok)
}

func TestManager_SubscribeFinishedJobClosesImmediately(t *testing.T) {
	m := newTestManager(&happyBackend{}, nil)
	job := m.Submit(SubmitRequest{Goal: "goal", Depth: research.DepthQuick, MaxIterations: 1})
	waitForStatus(t, m, job.ID, StatusCompleted)

	events, unsubscribe, ok := m.Subscribe(job.ID)
	require.True(t, ok)
	defer unsubscribe()

	_, open := <-events
	assert.False(t, open)
}

func TestManager_CancelFailsJob(t *testing.T) {
	backend := &happyBackend{block: make(chan struct{})}
	m := newTestManager(backend, nil)

	job := m.Submit(SubmitRequest{Goal: "goal", Depth: research.DepthQuick, MaxIterations: 1})
	waitForStatus(t, m, job.ID, StatusProcessing)

	require.True(t, m.Cancel(job.ID))
	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "context canceled")

	assert.False(t, m.Cancel("unknown"))
}

func TestManager_ListReturnsAllJobs(t *testing.T) {
	m := newTestManager(&happyBackend{}, nil)

	a := m.Submit(SubmitRequest{Goal: "a", Depth: research.DepthQuick, MaxIterations: 1})
	b := m.Submit(SubmitRequest{Goal: "b", Depth: research.DepthQuick, MaxIterations: 1})

	ids := map[string]bool{}
	for _, job := range m.List() {
		ids[job.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])

	waitForStatus(t, m, a.ID, StatusCompleted)
	waitForStatus(t, m, b.ID, StatusCompleted)
}
