// Package jobs tracks research sessions: it owns the in-memory
// registry, runs the pipeline in the background, fans progress events
// out to subscribers and persists finished runs as a best-effort side
// channel.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/pipeline"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/internal/storage/models"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event is one progress update streamed to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Step      string    `json:"step,omitempty"`
	Iteration int       `json:"iteration"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Job struct {
	ID          string
	Goal        string
	Depth       research.Depth
	Status      Status
	CurrentStep string
	Progress    float64
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// State is the last snapshot the pipeline reported; final state
	// once the job reaches a terminal status.
	State *research.State

	cancel      context.CancelFunc
	subscribers map[chan Event]struct{}
}

// Store is the persistence side channel; errors are logged, not acted on.
type Store interface {
	SaveJob(job *models.ResearchJob) error
	UpdateJobStatus(jobID, status, errMsg string) error
	SaveResult(jobID, status, errMsg string, st *research.State) error
}

type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	orch   *pipeline.Orchestrator
	store  Store
	logger *zap.Logger
}

func NewManager(orch *pipeline.Orchestrator, store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		orch:   orch,
		store:  store,
		logger: logger,
	}
}

type SubmitRequest struct {
	Goal             string
	Depth            research.Depth
	MaxConcurrency   int
	QualityThreshold float64
	MaxIterations    int
}

// Submit registers a job and starts the research loop in the
// background.
func (m *Manager) Submit(req SubmitRequest) *Job {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	job := &Job{
		ID:          uuid.NewString(),
		Goal:        req.Goal,
		Depth:       req.Depth,
		Status:      StatusQueued,
		CurrentStep: "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
		cancel:      cancel,
		subscribers: make(map[chan Event]struct{}),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveJob(&models.ResearchJob{
			ID:          job.ID,
			Goal:        job.Goal,
			SearchDepth: string(job.Depth),
			Status:      string(job.Status),
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			m.logger.Warn("Failed to persist job submission", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	st := research.NewState(req.Goal, req.Depth, req.MaxConcurrency, req.QualityThreshold, req.MaxIterations)

	// Snapshot before the run goroutine starts mutating the record.
	snap := *job
	snap.cancel = nil
	snap.subscribers = nil

	go m.run(ctx, job, st)

	m.logger.Info("Research job submitted",
		zap.String("job_id", job.ID),
		zap.String("goal", job.Goal),
		zap.String("depth", string(job.Depth)),
	)

	return &snap
}

func (m *Manager) run(ctx context.Context, job *Job, st *research.State) {
	m.update(job, StatusProcessing, "Starting research", 0, st)
	if m.store != nil {
		if err := m.store.UpdateJobStatus(job.ID, string(StatusProcessing), ""); err != nil {
			m.logger.Warn("Failed to persist status transition", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	final, err := m.orch.Run(ctx, st, func(stage string, snapshot *research.State) {
		m.update(job, StatusProcessing, stepLabel(stage), progressOf(stage, snapshot), snapshot)
	})

	if err != nil {
		m.finish(job, StatusFailed, err.Error(), final)
		return
	}
	m.finish(job, StatusCompleted, "", final)
}

func (m *Manager) update(job *Job, status Status, step string, progress float64, st *research.State) {
	m.mu.Lock()
	job.Status = status
	job.CurrentStep = step
	job.Progress = progress
	job.State = st
	job.UpdatedAt = time.Now()
	event := Event{
		Type:      "progress",
		Step:      step,
		Iteration: st.Iteration,
		Progress:  progress,
		Timestamp: job.UpdatedAt,
	}
	m.mu.Unlock()

	m.broadcast(job, event)
}

func (m *Manager) finish(job *Job, status Status, errMsg string, st *research.State) {
	m.mu.Lock()
	job.Status = status
	job.Error = errMsg
	job.Progress = 1
	job.State = st
	job.UpdatedAt = time.Now()
	if status == StatusCompleted {
		job.CurrentStep = "Completed"
	} else {
		job.CurrentStep = "Failed"
	}
	event := Event{
		Type:      "done",
		Step:      job.CurrentStep,
		Iteration: st.Iteration,
		Progress:  1,
		Error:     errMsg,
		Timestamp: job.UpdatedAt,
	}
	subs := job.subscribers
	job.subscribers = make(map[chan Event]struct{})
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- event:
		default:
		}
		close(ch)
	}

	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	m.logger.Info("Research job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("iterations", st.Iteration),
		zap.Int("entities", len(st.Entities)),
	)

	// Fire-and-forget persistence.
	if m.store != nil {
		go func() {
			if err := m.store.SaveResult(job.ID, string(status), errMsg, st); err != nil {
				m.logger.Warn("Failed to persist job result", zap.String("job_id", job.ID), zap.Error(err))
			}
		}()
	}
}

func (m *Manager) broadcast(job *Job, event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range job.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the pipeline.
		}
	}
}

// Get returns a point-in-time copy; the live record keeps changing
// under the manager's lock while the job runs.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snap := *job
	snap.cancel = nil
	snap.subscribers = nil
	return &snap, true
}

func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snap := *job
		snap.cancel = nil
		snap.subscribers = nil
		jobs = append(jobs, &snap)
	}
	return jobs
}

// Cancel stops a running job; in-flight fan-out units finish but no new
// stage starts.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	job.cancel()
	m.logger.Info("Research job cancelled", zap.String("job_id", id))
	return true
}

// Subscribe attaches a progress listener to a job. The returned cancel
// func must be called when the listener goes away; the channel closes
// when the job finishes.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil, false
	}

	ch := make(chan Event, 16)
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		close(ch)
		return ch, func() {}, true
	}

	job.subscribers[ch] = struct{}{}
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, live := job.subscribers[ch]; live {
			delete(job.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

func stepLabel(stage string) string {
	switch stage {
	case pipeline.StageQuery:
		return "Generating search strategies"
	case pipeline.StageAggregate:
		return "Discovering companies"
	case pipeline.StageSearch:
		return "Collecting evidence"
	case pipeline.StageEvaluate:
		return "Evaluating companies"
	case pipeline.StageQuality:
		return "Analyzing research quality"
	default:
		return stage
	}
}

var stageOrder = map[string]int{
	pipeline.StageQuery:     0,
	pipeline.StageAggregate: 1,
	pipeline.StageSearch:    2,
	pipeline.StageEvaluate:  3,
	pipeline.StageQuality:   4,
}

func progressOf(stage string, st *research.State) float64 {
	passes := float64(st.MaxIterations)
	if passes < 1 {
		passes = 1
	}
	done := float64(st.Iteration) + float64(stageOrder[stage])/5
	p := done / passes
	if p > 0.99 {
		p = 0.99
	}
	return p
}
