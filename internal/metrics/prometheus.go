package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_rag_turn_duration_seconds",
			Help:    "Time from utterance to reply, by route",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"route"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_turns_total",
			Help: "Turns processed, by route and outcome",
		},
		[]string{"route", "status"},
	)

	AnalyzerFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_rag_analyzer_fallbacks_total",
			Help: "Turns classified by the fallback analysis",
		},
	)

	SearchStrategy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_search_strategy_total",
			Help: "Which retrieval strategies produced results",
		},
		[]string{"strategy"},
	)

	EvidenceCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "support_rag_evidence_count",
			Help:    "Evidence records passed to generation",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	RerankTier = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_rerank_tier_total",
			Help: "Rerank tier that produced the final ordering",
		},
		[]string{"tier"},
	)

	CragRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "support_rag_crag_rounds",
			Help:    "Search rounds used by the corrective loop",
			Buckets: []float64{1, 2, 3},
		},
	)

	QualityConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "support_rag_quality_confidence",
			Help:    "Retrieval confidence per scored answer",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LowQualityTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_rag_low_quality_total",
			Help: "Answers graded low quality",
		},
	)

	ReflexionLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_reflexion_logged_total",
			Help: "Lessons recorded from negative feedback, by error type",
		},
		[]string{"error_type"},
	)

	BackgroundTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_background_tasks_total",
			Help: "Background task outcomes",
		},
		[]string{"task", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	KnowledgeRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_rag_knowledge_records",
			Help: "Records in the loaded knowledge base",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TurnDuration,
			TurnsTotal,
			AnalyzerFallbacks,
			SearchStrategy,
			EvidenceCount,
			RerankTier,
			CragRounds,
			QualityConfidence,
			LowQualityTotal,
			ReflexionLogged,
			BackgroundTasks,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			KnowledgeRecords,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
