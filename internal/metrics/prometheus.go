package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"mode", "status"},
	)

	SearchResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_search_results_count",
			Help:    "Number of fused results returned per pool search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"pool"},
	)

	SearchDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_search_degraded_total",
			Help: "Pool searches that degraded to semantic-only",
		},
		[]string{"pool"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	GapAssessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_gap_assessments_total",
			Help: "Gap assessments by outcome",
		},
		[]string{"outcome"},
	)

	QAScores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_qa_scores_total",
			Help: "QA scoring runs by outcome",
		},
		[]string{"outcome"},
	)

	ClassificationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copilot_classification_confidence",
			Help:    "Classification confidence scores",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

func Register() {
	prometheus.MustRegister(
		QueryDuration,
		QueryTotal,
		SearchResults,
		SearchDegraded,
		LLMTokensUsed,
		GapAssessments,
		QAScores,
		ClassificationConfidence,
	)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
