package pipeline

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func TestLogObserver(t *testing.T) {
	buf := captureLog(t)
	var o LogObserver

	o.OnStage(StageEvent{RunID: "r1", Stage: common.StageClean, Phase: PhaseStart})
	assert.Contains(t, buf.String(), `"message":"Stage started"`)

	buf.Reset()
	o.OnStage(StageEvent{
		RunID:       "r1",
		Stage:       common.StageClean,
		Phase:       PhaseEnd,
		RowsIn:      10,
		RowsOut:     8,
		ClassCounts: map[int]int{0: 6, 1: 2},
		Output:      "clean.csv",
		Duration:    time.Second,
	})
	out := buf.String()
	assert.Contains(t, out, `"stage":"clean"`)
	assert.Contains(t, out, `"rows_out":8`)
	assert.Contains(t, out, `"fraud":2`)
	assert.Contains(t, out, `"output":"clean.csv"`)

	buf.Reset()
	o.OnStage(StageEvent{RunID: "r1", Stage: common.StageFit, Phase: PhaseFail, Err: errors.New("boom")})
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	o.OnRun(RunEvent{RunID: "r1", Command: "run", Status: storage.RunFailed, Err: errors.New("boom")})
	assert.Contains(t, buf.String(), `"message":"Run failed"`)
}

func TestMetricsObserver(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	o := NewMetricsObserver(metrics.NewWrapper(m))

	o.OnStage(StageEvent{Stage: common.StageSplit, Phase: PhaseStart})
	assert.Equal(t, 0, testutil.CollectAndCount(m.StageDuration))

	o.OnStage(StageEvent{
		Stage:       common.StageSplit,
		Phase:       PhaseEnd,
		RowsIn:      100,
		RowsOut:     80,
		ClassCounts: map[int]int{0: 76, 1: 4},
		Duration:    time.Millisecond,
	})
	assert.Equal(t, 100.0, testutil.ToFloat64(m.StageRowsIn.WithLabelValues(common.StageSplit)))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.StageRowsOut.WithLabelValues(common.StageSplit)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.StageClass.WithLabelValues(common.StageSplit, "1")))

	o.OnStage(StageEvent{Stage: common.StageFit, Phase: PhaseFail, Err: errors.New("boom")})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues(common.StageFit)))

	o.OnRun(RunEvent{Status: storage.RunRunning})
	o.OnRun(RunEvent{Status: storage.RunFailed})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(storage.RunFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(storage.RunRunning)))
}

func TestMultiObserver(t *testing.T) {
	rec := &recorder{}
	var stageOnly []StageEvent
	multi := MultiObserver{rec, ObserverFunc(func(ev StageEvent) { stageOnly = append(stageOnly, ev) })}

	multi.OnStage(StageEvent{Stage: common.StageScale, Phase: PhaseEnd})
	multi.OnRun(RunEvent{Status: storage.RunSucceeded})

	require.Len(t, rec.stages, 1)
	require.Len(t, rec.runs, 1)
	require.Len(t, stageOnly, 1)
	assert.Equal(t, common.StageScale, stageOnly[0].Stage)
}

func TestStoreObserver(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	o := NewStoreObserver(store)

	start := time.Now()
	o.OnRun(RunEvent{RunID: "r1", Command: "clean", Status: storage.RunRunning, StartedAt: start})
	o.OnStage(StageEvent{RunID: "r1", Stage: common.StageClean, Phase: PhaseEnd, RowsIn: 5, RowsOut: 4, Timestamp: start})
	o.OnRun(RunEvent{RunID: "r1", Command: "clean", Status: storage.RunSucceeded, StartedAt: start, Duration: time.Second})

	run, err := store.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, storage.RunSucceeded, run.Status)
	assert.Equal(t, "clean", run.Command)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, 4, run.Stages[0].RowsOut)
	assert.WithinDuration(t, start.Add(time.Second), run.FinishedAt, time.Millisecond)

	// an empty run id is rejected by the store but never panics
	o.OnStage(StageEvent{Stage: common.StageClean, Phase: PhaseEnd})
}
