package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsHistogram interface {
	Observe(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces the predictor, the
// pipeline runner and the evaluator depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) StageDuration(stage string) MetricsHistogram {
	return &HistogramWrapper{w.m.StageDuration.WithLabelValues(stage)}
}

func (w *MetricsWrapper) StageFailures(stage string) MetricsCounter {
	return &CounterWrapper{w.m.StageFailures.WithLabelValues(stage)}
}

// ObserveStage records one finished stage execution. Row gauges are only
// updated on success.
func (w *MetricsWrapper) ObserveStage(stage string, d time.Duration, rowsIn, rowsOut int, classCounts map[int]int, err error) {
	w.StageDuration(stage).Observe(d.Seconds())
	if err != nil {
		w.StageFailures(stage).Inc()
		return
	}
	w.m.StageRowsIn.WithLabelValues(stage).Set(float64(rowsIn))
	w.m.StageRowsOut.WithLabelValues(stage).Set(float64(rowsOut))
	for class, n := range classCounts {
		w.m.StageClass.WithLabelValues(stage, strconv.Itoa(class)).Set(float64(n))
	}
}

// RunFinished counts a finished run by status.
func (w *MetricsWrapper) RunFinished(status string) {
	w.m.RunsTotal.WithLabelValues(status).Inc()
}

// ML metrics

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
}

func (w *MetricsWrapper) MLFlaggedInc() {
	w.m.MLFlagged.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

// Evaluation metrics

func (w *MetricsWrapper) SetEvaluation(metric string, v float64) {
	w.m.EvalScore.WithLabelValues(metric).Set(v)
}

func (w *MetricsWrapper) SetDrift(feature string, ks, psi float64) {
	w.m.DriftKS.WithLabelValues(feature).Set(ks)
	w.m.DriftPSI.WithLabelValues(feature).Set(psi)
}

func (w *MetricsWrapper) SetDriftLevel(level int) {
	w.m.DriftLevel.Set(float64(level))
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type HistogramWrapper struct {
	h prometheus.Observer
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
