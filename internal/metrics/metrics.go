// Package metrics provides Prometheus metrics for the fraud pipeline.
// It covers stage execution (durations, row counts, failures), model
// scoring in the serving path, and the evaluation and drift figures of the
// most recent evaluation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraud"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Pipeline metrics
	StageDuration *prometheus.HistogramVec // Stage wall time, by stage
	StageRowsIn   *prometheus.GaugeVec     // Rows read by the last execution of a stage
	StageRowsOut  *prometheus.GaugeVec     // Rows written by the last execution of a stage
	StageClass    *prometheus.GaugeVec     // Output rows per class, by stage and class
	StageFailures *prometheus.CounterVec   // Failed stage executions, by stage
	RunsTotal     *prometheus.CounterVec   // Finished pipeline runs, by status

	// Scoring metrics
	MLPredictions      prometheus.Counter   // Transactions scored
	MLFailures         prometheus.Counter   // Scoring failures
	MLFlagged          prometheus.Counter   // Transactions at or above the fraud threshold
	MLModelAge         prometheus.Gauge     // Age of the loaded artifact in seconds
	MLLatency          prometheus.Histogram // Batch scoring latency in seconds
	MLPredictionScores prometheus.Histogram // Distribution of fraud probabilities

	// Evaluation metrics
	EvalScore  *prometheus.GaugeVec // Test-set scores, by metric name
	DriftKS    *prometheus.GaugeVec // Train/test KS statistic, by feature
	DriftPSI   *prometheus.GaugeVec // Train/test population stability index, by feature
	DriftLevel prometheus.Gauge     // Overall drift severity, 0 none to 3 high
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registerer, mainly for tests
// and for the textfile export of batch commands.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stage"}),
		StageRowsIn: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_rows_in",
			Help:      "Rows read by the last execution of a stage",
		}, []string{"stage"}),
		StageRowsOut: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_rows_out",
			Help:      "Rows written by the last execution of a stage",
		}, []string{"stage"}),
		StageClass: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_class_rows",
			Help:      "Output rows per class of the last execution of a stage",
		}, []string{"stage", "class"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed stage executions",
		}, []string{"stage"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished pipeline runs",
		}, []string{"status"}),
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ml_predictions_total",
			Help:      "Total number of transactions scored",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ml_failures_total",
			Help:      "Total number of scoring failures",
		}),
		MLFlagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ml_flagged_total",
			Help:      "Total number of transactions flagged as fraud",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ml_model_age_seconds",
			Help:      "Age of the loaded model artifact in seconds",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ml_latency_seconds",
			Help:      "Batch scoring latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ml_prediction_scores",
			Help:      "Distribution of fraud probabilities",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		EvalScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_score",
			Help:      "Test-set score of the last evaluation",
		}, []string{"metric"}),
		DriftKS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_ks_statistic",
			Help:      "Kolmogorov-Smirnov statistic between train and test partitions",
		}, []string{"feature"}),
		DriftPSI: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_psi",
			Help:      "Population stability index between train and test partitions",
		}, []string{"feature"}),
		DriftLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_level",
			Help:      "Overall drift severity of the last evaluation (0 none, 1 low, 2 medium, 3 high)",
		}),
	}
}
