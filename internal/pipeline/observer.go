package pipeline

import (
	"time"

	"fraud-pipeline/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase marks where in its lifetime a stage event was emitted.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseFail  Phase = "fail"
)

// StageEvent is emitted when a stage starts, ends or fails.
type StageEvent struct {
	RunID       string
	Stage       string
	Phase       Phase
	RowsIn      int
	RowsOut     int
	ClassCounts map[int]int
	Output      string
	Duration    time.Duration
	Err         error
	Timestamp   time.Time
}

// RunEvent is emitted when a tracked command starts and again when it ends.
// Status is one of the storage run statuses.
type RunEvent struct {
	RunID     string
	Command   string
	Status    string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Observer receives stage events.
type Observer interface {
	OnStage(ev StageEvent)
}

// RunObserver is implemented by observers that also follow whole runs.
type RunObserver interface {
	OnRun(ev RunEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StageEvent)

func (f ObserverFunc) OnStage(ev StageEvent) { f(ev) }

// MultiObserver fans events out to every member in order.
type MultiObserver []Observer

func (m MultiObserver) OnStage(ev StageEvent) {
	for _, o := range m {
		o.OnStage(ev)
	}
}

func (m MultiObserver) OnRun(ev RunEvent) {
	for _, o := range m {
		if ro, ok := o.(RunObserver); ok {
			ro.OnRun(ev)
		}
	}
}

// LogObserver writes events to the global zerolog logger.
type LogObserver struct{}

func (LogObserver) OnStage(ev StageEvent) {
	var e *zerolog.Event
	switch ev.Phase {
	case PhaseStart:
		e = log.Debug()
	case PhaseFail:
		e = log.Error().Err(ev.Err)
	default:
		e = log.Info()
	}
	e = e.Str("run", ev.RunID).Str("stage", ev.Stage)
	if ev.Phase == PhaseStart {
		e.Msg("Stage started")
		return
	}
	e = e.Int("rows_in", ev.RowsIn).Dur("duration", ev.Duration)
	if ev.Phase == PhaseFail {
		e.Msg("Stage failed")
		return
	}
	e = e.Int("rows_out", ev.RowsOut)
	if ev.ClassCounts != nil {
		dict := zerolog.Dict()
		for class, n := range ev.ClassCounts {
			dict = dict.Int(classKey(class), n)
		}
		e = e.Dict("classes", dict)
	}
	if ev.Output != "" {
		e = e.Str("output", ev.Output)
	}
	e.Msg("Stage finished")
}

func (LogObserver) OnRun(ev RunEvent) {
	switch ev.Status {
	case storage.RunRunning:
		log.Info().Str("run", ev.RunID).Str("command", ev.Command).Msg("Run started")
	case storage.RunFailed:
		log.Error().Err(ev.Err).Str("run", ev.RunID).Str("command", ev.Command).Dur("duration", ev.Duration).Msg("Run failed")
	default:
		log.Info().Str("run", ev.RunID).Str("command", ev.Command).Dur("duration", ev.Duration).Msg("Run finished")
	}
}

func classKey(class int) string {
	switch class {
	case 0:
		return "legit"
	case 1:
		return "fraud"
	default:
		return "other"
	}
}

// StageMetrics is the metrics surface the pipeline reports into.
type StageMetrics interface {
	ObserveStage(stage string, d time.Duration, rowsIn, rowsOut int, classCounts map[int]int, err error)
	RunFinished(status string)
}

// MetricsObserver records finished stages and runs.
type MetricsObserver struct {
	m StageMetrics
}

func NewMetricsObserver(m StageMetrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) OnStage(ev StageEvent) {
	if ev.Phase == PhaseStart {
		return
	}
	o.m.ObserveStage(ev.Stage, ev.Duration, ev.RowsIn, ev.RowsOut, ev.ClassCounts, ev.Err)
}

func (o *MetricsObserver) OnRun(ev RunEvent) {
	if ev.Status == storage.RunRunning {
		return
	}
	o.m.RunFinished(ev.Status)
}

// StoreObserver appends events to the run history. Store errors are logged
// and never fail the stage.
type StoreObserver struct {
	store *storage.Store
}

func NewStoreObserver(store *storage.Store) *StoreObserver {
	return &StoreObserver{store: store}
}

func (o *StoreObserver) OnStage(ev StageEvent) {
	rec := storage.StageRecord{
		Stage:       ev.Stage,
		Phase:       string(ev.Phase),
		RowsIn:      ev.RowsIn,
		RowsOut:     ev.RowsOut,
		ClassCounts: ev.ClassCounts,
		Output:      ev.Output,
		Duration:    ev.Duration,
		Timestamp:   ev.Timestamp,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if err := o.store.AppendStage(ev.RunID, rec); err != nil {
		log.Warn().Err(err).Str("run", ev.RunID).Str("stage", ev.Stage).Msg("Failed to record stage event")
	}
}

func (o *StoreObserver) OnRun(ev RunEvent) {
	var err error
	if ev.Status == storage.RunRunning {
		err = o.store.StartRun(ev.RunID, ev.Command, ev.StartedAt)
	} else {
		err = o.store.FinishRun(ev.RunID, ev.StartedAt.Add(ev.Duration), ev.Err)
	}
	if err != nil {
		log.Warn().Err(err).Str("run", ev.RunID).Msg("Failed to record run")
	}
}
