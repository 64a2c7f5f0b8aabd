package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_jobs_total",
			Help: "Research jobs by terminal status",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gtm_research_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	IterationsPerJob = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gtm_research_iterations_per_job",
			Help:    "Feedback-loop passes per completed job",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_searches_total",
			Help: "External search calls by source and outcome",
		},
		[]string{"source", "status"},
	)

	EntitiesDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gtm_research_entities_discovered_total",
			Help: "Entities admitted after dedup",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CoverageScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gtm_research_coverage_score",
			Help:    "Coverage score per quality pass",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gtm_research_quality_score",
			Help:    "Quality score per quality pass",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtm_research_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)
)

func Init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(IterationsPerJob)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(EntitiesDiscovered)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CoverageScore)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(BreakerTransitions)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
