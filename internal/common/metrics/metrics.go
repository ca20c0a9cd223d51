// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendora_queries_processed_total",
			Help: "Total number of user queries processed, by final state",
		},
		[]string{"state", "complexity"},
	)

	InsightsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendora_insights_validated_total",
			Help: "Total number of validation verdicts issued",
		},
		[]string{"verdict"},
	)

	RevisionCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vendora_revision_cycles_total",
			Help: "Total number of revision cycles requested",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vendora_stage_duration_seconds",
			Help: "Duration of pipeline stages in seconds",
		},
		[]string{"stage"},
	)

	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vendora_tasks_active",
			Help: "Number of tasks currently in flight",
		},
	)

	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vendora_quality_score",
			Help:    "Distribution of overall validation quality scores",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		},
	)

	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendora_model_calls_total",
			Help: "Total number of external model calls, by outcome",
		},
		[]string{"outcome"},
	)
)
