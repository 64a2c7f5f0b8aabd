// Package research defines the shared state threaded through the
// pipeline and its merge semantics. Stages never mutate a state they
// received; they clone it, apply their delta and return the copy.
package research

import "sort"

type Depth string

const (
	DepthQuick         Depth = "quick"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

func ParseDepth(s string) (Depth, bool) {
	switch Depth(s) {
	case DepthQuick, DepthStandard, DepthComprehensive:
		return Depth(s), true
	}
	return DepthStandard, false
}

// DepthConfig sizes per-stage knobs for a search depth.
type DepthConfig struct {
	NumResults  int
	MaxEntities int
}

var depthConfigs = map[Depth]DepthConfig{
	DepthQuick:         {NumResults: 10, MaxEntities: 50},
	DepthStandard:      {NumResults: 20, MaxEntities: 100},
	DepthComprehensive: {NumResults: 30, MaxEntities: 200},
}

func ConfigForDepth(d Depth) DepthConfig {
	if cfg, ok := depthConfigs[d]; ok {
		return cfg
	}
	return depthConfigs[DepthStandard]
}

// Entity is a discovered company, keyed by its domain. Immutable after
// admission.
type Entity struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	SourceURL string `json:"source_url,omitempty"`
}

// Judgement is the structured result of an external evaluation call.
// Extra holds open-ended keys the model may add beyond the known set.
type Judgement struct {
	GoalAchieved    bool           `json:"goal_achieved"`
	Technologies    []string       `json:"technologies"`
	Evidences       []string       `json:"evidences"`
	ConfidenceLevel string         `json:"confidence_level"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Finding is the per-entity outcome of one evaluation pass.
type Finding struct {
	Domain          string    `json:"domain"`
	ConfidenceScore float64   `json:"confidence_score"`
	EvidenceCount   int       `json:"evidence_count"`
	Judgement       Judgement `json:"judgement"`
	SignalCount     int       `json:"signal_count"`
}

// EntityAnalysis is the per-entity slice of a quality report.
type EntityAnalysis struct {
	Domain          string   `json:"domain"`
	QualityScore    float64  `json:"quality_score"`
	CoverageScore   float64  `json:"coverage_score"`
	Gaps            []string `json:"gaps"`
	EvidenceIssues  []string `json:"evidence_issues"`
	Recommendations []string `json:"recommendations"`
}

// QualityReport summarizes one iteration. It is fully replaced each
// pass; the previous report feeds the next query stage as feedback.
type QualityReport struct {
	CoverageScore   float64          `json:"coverage_score"`
	QualityScore    float64          `json:"quality_score"`
	MissingAspects  []string         `json:"missing_aspects"`
	Gaps            []string         `json:"gaps"`
	EvidenceIssues  []string         `json:"evidence_issues"`
	Recommendations []string         `json:"recommendations"`
	EntityAnalyses  []EntityAnalysis `json:"entity_analyses"`
}

// AnalysisFor returns the per-entity analysis for domain, if present.
func (r *QualityReport) AnalysisFor(domain string) *EntityAnalysis {
	if r == nil {
		return nil
	}
	for i := range r.EntityAnalyses {
		if r.EntityAnalyses[i].Domain == domain {
			return &r.EntityAnalyses[i]
		}
	}
	return nil
}

// State is the single value passed through the pipeline.
type State struct {
	// Immutable run parameters, set once at job start.
	Goal             string  `json:"goal"`
	Depth            Depth   `json:"search_depth"`
	MaxConcurrency   int     `json:"max_concurrency"`
	QualityThreshold float64 `json:"quality_threshold"`
	MaxIterations    int     `json:"max_iterations"`

	// Stage-owned fields.
	Strategies       []string                       `json:"strategies"`
	Entities         []Entity                       `json:"entities"`
	EvidenceBySource map[string]map[string][]string `json:"evidence_by_source"`
	Findings         []Finding                      `json:"findings"`
	Quality          *QualityReport                 `json:"quality_metrics,omitempty"`
	Iteration        int                            `json:"iteration_count"`
}

func NewState(goal string, depth Depth, maxConcurrency int, qualityThreshold float64, maxIterations int) *State {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxIterations < 1 {
		maxIterations = 1
	}
	return &State{
		Goal:             goal,
		Depth:            depth,
		MaxConcurrency:   maxConcurrency,
		QualityThreshold: qualityThreshold,
		MaxIterations:    maxIterations,
		EvidenceBySource: map[string]map[string][]string{},
	}
}

// Clone deep-copies the state so a stage can build its successor
// without touching the value shared with the caller.
func (s *State) Clone() *State {
	next := *s

	next.Strategies = append([]string(nil), s.Strategies...)
	next.Entities = append([]Entity(nil), s.Entities...)
	next.Findings = append([]Finding(nil), s.Findings...)

	next.EvidenceBySource = make(map[string]map[string][]string, len(s.EvidenceBySource))
	for source, byDomain := range s.EvidenceBySource {
		inner := make(map[string][]string, len(byDomain))
		for domain, snippets := range byDomain {
			inner[domain] = append([]string(nil), snippets...)
		}
		next.EvidenceBySource[source] = inner
	}

	if s.Quality != nil {
		report := *s.Quality
		report.MissingAspects = append([]string(nil), s.Quality.MissingAspects...)
		report.Gaps = append([]string(nil), s.Quality.Gaps...)
		report.EvidenceIssues = append([]string(nil), s.Quality.EvidenceIssues...)
		report.Recommendations = append([]string(nil), s.Quality.Recommendations...)
		report.EntityAnalyses = append([]EntityAnalysis(nil), s.Quality.EntityAnalyses...)
		next.Quality = &report
	}

	return &next
}

// EvidenceFor flattens all evidence for one domain across sources.
// Sources are visited in sorted order so the result is deterministic.
func (s *State) EvidenceFor(domain string) []string {
	sources := make([]string, 0, len(s.EvidenceBySource))
	for source := range s.EvidenceBySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var all []string
	for _, source := range sources {
		all = append(all, s.EvidenceBySource[source][domain]...)
	}
	return all
}
