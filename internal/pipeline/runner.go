// Package pipeline chains the training stages over the on-disk file handoff
// and reports every stage to a set of observers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/evaluate"
	"fraud-pipeline/internal/features"
	"fraud-pipeline/internal/ml"
	"fraud-pipeline/internal/sampling"
	"fraud-pipeline/internal/storage"

	"github.com/rs/zerolog/log"
)

// Metrics is what WithMetrics needs: stage and run figures plus evaluation
// results.
type Metrics interface {
	StageMetrics
	evaluate.MetricsSink
}

// Runner executes stages for one run.
type Runner struct {
	settings *cfg.Settings
	layout   Layout
	runID    string
	observer MultiObserver
	store    *storage.Store
	sink     evaluate.MetricsSink
	scoring  ml.MetricsInterface
}

type Option func(*Runner)

// WithObservers adds stage observers.
func WithObservers(obs ...Observer) Option {
	return func(r *Runner) { r.observer = append(r.observer, obs...) }
}

// WithStore records the run history and registers fitted models in store.
func WithStore(store *storage.Store) Option {
	return func(r *Runner) {
		r.store = store
		r.observer = append(r.observer, NewStoreObserver(store))
	}
}

// WithMetrics reports stages, runs and evaluations into m. When m also
// implements ml.MetricsInterface it receives prediction figures too.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		r.observer = append(r.observer, NewMetricsObserver(m))
		r.sink = m
		if pm, ok := m.(ml.MetricsInterface); ok {
			r.scoring = pm
		}
	}
}

func NewRunner(settings *cfg.Settings, runID string, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		layout:   NewLayout(settings),
		runID:    runID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Layout() Layout          { return r.layout }
func (r *Runner) RunID() string           { return r.runID }
func (r *Runner) Settings() *cfg.Settings { return r.settings }

type stageResult struct {
	rowsIn  int
	rowsOut int
	classes map[int]int
	output  string
}

func (r *Runner) stage(ctx context.Context, name string, fn func(ctx context.Context) (stageResult, error)) error {
	start := time.Now()
	r.observer.OnStage(StageEvent{RunID: r.runID, Stage: name, Phase: PhaseStart, Timestamp: start})

	var res stageResult
	err := ctx.Err()
	if err == nil {
		res, err = fn(ctx)
	}

	ev := StageEvent{
		RunID:       r.runID,
		Stage:       name,
		Phase:       PhaseEnd,
		RowsIn:      res.rowsIn,
		RowsOut:     res.rowsOut,
		ClassCounts: res.classes,
		Output:      res.output,
		Duration:    time.Since(start),
		Timestamp:   time.Now(),
	}
	if err != nil {
		ev.Phase = PhaseFail
		ev.Err = err
		r.observer.OnStage(ev)
		return fmt.Errorf("%s stage: %w", name, err)
	}
	r.observer.OnStage(ev)
	return nil
}

// Track wraps a command in run start and finish events.
func (r *Runner) Track(ctx context.Context, command string, fn func(ctx context.Context) error) error {
	start := time.Now()
	r.observer.OnRun(RunEvent{RunID: r.runID, Command: command, Status: storage.RunRunning, StartedAt: start})

	err := fn(ctx)

	status := storage.RunSucceeded
	if err != nil {
		status = storage.RunFailed
	}
	r.observer.OnRun(RunEvent{
		RunID:     r.runID,
		Command:   command,
		Status:    status,
		StartedAt: start,
		Duration:  time.Since(start),
		Err:       err,
	})
	return err
}

func (r *Runner) classCounts(fr *dataset.Frame) map[int]int {
	counts, err := fr.ClassCounts(r.settings.Target)
	if err != nil {
		return nil
	}
	return counts
}

func (r *Runner) rawDest(sio StageIO) string {
	name := r.layout.RawFile
	if sio.Src != "" {
		name = sio.Src
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(sio.dest(r.layout.RawDir()), name)
}

// Fetch downloads the raw dataset. An empty url falls back to the configured
// source. Src names the written file.
func (r *Runner) Fetch(ctx context.Context, url string, sio StageIO) (*dataset.Frame, error) {
	if url == "" {
		url = r.settings.SourceURL
	}
	dst := r.rawDest(sio)
	var fr *dataset.Frame
	err := r.stage(ctx, common.StageFetch, func(ctx context.Context) (stageResult, error) {
		var err error
		fr, err = dataset.NewDownloader(r.settings.FetchTimeout).Download(ctx, url, dst)
		if err != nil {
			return stageResult{}, err
		}
		return stageResult{rowsOut: fr.Len(), classes: r.classCounts(fr), output: dst}, nil
	})
	return fr, err
}

// Generate writes a synthetic raw dataset in place of a download.
func (r *Runner) Generate(ctx context.Context, opts dataset.SynthOptions, sio StageIO) (*dataset.Frame, error) {
	dst := r.rawDest(sio)
	var fr *dataset.Frame
	err := r.stage(ctx, common.StageGenerate, func(ctx context.Context) (stageResult, error) {
		var err error
		if fr, err = dataset.Synthesize(opts); err != nil {
			return stageResult{}, err
		}
		if err := dataset.WriteCSV(dst, fr); err != nil {
			return stageResult{}, err
		}
		return stageResult{rowsOut: fr.Len(), classes: r.classCounts(fr), output: dst}, nil
	})
	return fr, err
}

// Split partitions the raw dataset into train.csv and test.csv.
func (r *Runner) Split(ctx context.Context, sio StageIO) (train, test *dataset.Frame, err error) {
	src := sio.source(r.layout.RawDir(), r.layout.RawFile)
	dstDir := sio.dest(r.layout.TrainTestDir())
	err = r.stage(ctx, common.StageSplit, func(ctx context.Context) (stageResult, error) {
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}
		train, test, err = sampling.Split(fr, sampling.SplitOptions{
			Target:   r.settings.Target,
			TestSize: r.settings.TestSize,
			Stratify: r.settings.Stratify,
			Seed:     r.settings.Seed,
			SortBy:   sio.sortBy(r.settings.SortBy),
		})
		if err != nil {
			return res, err
		}
		err = dataset.WriteCSVs(
			dataset.CSVFile{Path: filepath.Join(dstDir, common.TrainFile), Frame: train},
			dataset.CSVFile{Path: filepath.Join(dstDir, common.TestFile), Frame: test},
		)
		if err != nil {
			return res, err
		}
		log.Info().
			Int("train", train.Len()).
			Int("test", test.Len()).
			Interface("test_classes", r.classCounts(test)).
			Msg("Dataset split")
		res.rowsOut = train.Len()
		res.classes = r.classCounts(train)
		res.output = dstDir
		return res, nil
	})
	return train, test, err
}

// Clean drops legit rows whose clean column exceeds the threshold.
func (r *Runner) Clean(ctx context.Context, sio StageIO) (*dataset.Frame, error) {
	src := sio.source(r.layout.TrainTestDir(), common.TrainFile)
	dst := filepath.Join(sio.dest(r.layout.CleanDir()), common.CleanFile)
	var out *dataset.Frame
	err := r.stage(ctx, common.StageClean, func(ctx context.Context) (stageResult, error) {
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}
		out, err = sampling.Clean(fr, sampling.CleanOptions{
			Column:     r.settings.CleanColumn,
			Threshold:  r.settings.CleanThreshold,
			Target:     r.settings.Target,
			FraudLabel: r.settings.FraudLabel,
			SortBy:     sio.sortBy(r.settings.SortBy),
		})
		if err != nil {
			return res, err
		}
		if err := dataset.WriteCSV(dst, out); err != nil {
			return res, err
		}
		res.rowsOut, res.classes, res.output = out.Len(), r.classCounts(out), dst
		return res, nil
	})
	return out, err
}

// Scale fits a robust scaler on the cleaned training rows, writes the scaled
// rows and persists the fitted state next to them. Nil columns use the
// configured scale columns.
func (r *Runner) Scale(ctx context.Context, sio StageIO, columns []string) (*dataset.Frame, *features.RobustScaler, error) {
	if len(columns) == 0 {
		columns = r.settings.ScaleColumns
	}
	src := sio.source(r.layout.CleanDir(), common.CleanFile)
	dstDir := sio.dest(r.layout.ScaledDir())
	var (
		out    *dataset.Frame
		scaler = features.NewRobustScaler()
	)
	err := r.stage(ctx, common.StageScale, func(ctx context.Context) (stageResult, error) {
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}
		if out, err = scaler.FitTransform(fr, columns); err != nil {
			return res, err
		}
		if err := sampling.Finalize(out, r.settings.Target, sio.sortBy(r.settings.SortBy)); err != nil {
			return res, err
		}
		dst := filepath.Join(dstDir, common.ScaledFile)
		if err := dataset.WriteCSV(dst, out); err != nil {
			return res, err
		}
		if err := scaler.Save(filepath.Join(dstDir, common.ScalerFile)); err != nil {
			return res, fmt.Errorf("failed to save scaler state: %w", err)
		}
		res.rowsOut, res.classes, res.output = out.Len(), r.classCounts(out), dst
		return res, nil
	})
	return out, scaler, err
}

// Resample runs random undersampling and then Tomek-link cleaning, writing
// each intermediate plus the final processed training file.
func (r *Runner) Resample(ctx context.Context, sio StageIO) (*dataset.Frame, error) {
	src := sio.source(r.layout.ScaledDir(), common.ScaledFile)
	rusDir := sio.dest(r.layout.RUSDir())
	tomekDir := sio.dest(r.layout.TomekDir())
	processedDir := sio.dest(r.layout.ProcessedDir())
	sortBy := sio.sortBy(r.settings.SortBy)

	var rus *dataset.Frame
	err := r.stage(ctx, common.StageUndersamp, func(ctx context.Context) (stageResult, error) {
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}
		rus, err = sampling.RandomUndersample(fr, sampling.UndersampleOptions{
			Target: r.settings.Target,
			Seed:   r.settings.Seed,
			SortBy: sortBy,
		})
		if err != nil {
			return res, err
		}
		dst := filepath.Join(rusDir, common.RUSFile)
		if err := dataset.WriteCSV(dst, rus); err != nil {
			return res, err
		}
		res.rowsOut, res.classes, res.output = rus.Len(), r.classCounts(rus), dst
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	var out *dataset.Frame
	err = r.stage(ctx, common.StageTomek, func(ctx context.Context) (stageResult, error) {
		res := stageResult{rowsIn: rus.Len()}
		var err error
		out, err = sampling.TomekLinks(ctx, rus, sampling.TomekOptions{
			Target:   r.settings.Target,
			Strategy: r.settings.TomekStrategy,
			SortBy:   sortBy,
		})
		if err != nil {
			return res, err
		}
		if err := dataset.WriteCSV(filepath.Join(tomekDir, common.TomekFile), out); err != nil {
			return res, err
		}
		if err := carryScaler(sio.scalerBeside(src), filepath.Join(processedDir, common.ScalerFile), sio.Scaler == NoScaler); err != nil {
			return res, err
		}
		dst := filepath.Join(processedDir, common.ProcessedFile)
		if err := dataset.WriteCSV(dst, out); err != nil {
			return res, err
		}
		res.rowsOut, res.classes, res.output = out.Len(), r.classCounts(out), dst
		return res, nil
	})
	return out, err
}

// carryScaler copies the scaler state that produced a resample input next to
// the processed training file. A stale copy is removed when the input has no
// state and is marked unscaled.
func carryScaler(from, to string, unscaled bool) error {
	if unscaled {
		if err := os.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale scaler state: %w", err)
		}
		return nil
	}
	scaler, err := features.LoadRobustScaler(from)
	if err != nil {
		return fmt.Errorf("scaler state for resample input: %w (pass --scaler %s for unscaled input)", err, NoScaler)
	}
	return scaler.Save(to)
}

// Fit trains the voting ensemble on the processed training file and persists
// it together with the scaler state stored beside that file. With a store the
// artifact is also registered as a model version; the first registered
// version becomes active.
func (r *Runner) Fit(ctx context.Context, sio StageIO) (*ml.Artifact, error) {
	src := sio.source(r.layout.ProcessedDir(), common.ProcessedFile)
	dst := filepath.Join(sio.dest(r.layout.ClassifiersDir), r.layout.ModelFile)
	var artifact *ml.Artifact
	err := r.stage(ctx, common.StageFit, func(ctx context.Context) (stageResult, error) {
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}

		X, y, featureNames, err := fr.XY(r.settings.Target)
		if err != nil {
			return res, err
		}

		var scaler *features.RobustScaler
		if sio.Scaler == NoScaler {
			log.Warn().Str("src", src).Msg("Fitting on unscaled input, artifact will score raw values")
		} else {
			path := sio.scalerBeside(src)
			if scaler, err = features.LoadRobustScaler(path); err != nil {
				return res, fmt.Errorf("scaler state for %s: %w (pass --scaler %s for unscaled input)", src, err, NoScaler)
			}
			if err := scaler.Covers(featureNames); err != nil {
				return res, fmt.Errorf("scaler state %s: %w", path, err)
			}
		}
		model := ml.NewVotingClassifier(r.settings.Model, r.settings.Seed)
		if err := model.Fit(ctx, X, y); err != nil {
			return res, err
		}

		now := time.Now()
		artifact = &ml.Artifact{
			Kind:        common.ArtifactKind,
			Version:     ml.NewVersion(now, r.runID),
			RunID:       r.runID,
			CreatedAt:   now,
			Features:    featureNames,
			Target:      r.settings.Target,
			Scaler:      scaler,
			Model:       model,
			TrainRows:   fr.Len(),
			ClassCounts: dataset.CountLabels(y),
		}
		if err := ml.SaveArtifact(dst, artifact); err != nil {
			return res, err
		}
		if err := r.register(artifact); err != nil {
			return res, err
		}
		res.rowsOut, res.classes, res.output = len(y), artifact.ClassCounts, dst
		return res, nil
	})
	return artifact, err
}

func (r *Runner) register(a *ml.Artifact) error {
	if r.store == nil {
		return nil
	}
	path := r.layout.VersionPath(a.Version)
	if err := ml.SaveArtifact(path, a); err != nil {
		return err
	}

	mm := ml.NewModelManager(r.store)
	if _, err := mm.AddVersion(a.Version, path, a.RunID, storage.ModelMetrics{TrainingSamples: a.TrainRows}); err != nil {
		return err
	}
	current, err := mm.GetCurrentVersion()
	if err != nil {
		return err
	}
	if current == nil {
		return mm.ActivateVersion(a.Version)
	}
	log.Info().
		Str("version", a.Version).
		Str("active", current.Version).
		Msg("Model version registered inactive")
	return nil
}

// EvaluateOptions select the model and the optional analyses of Evaluate.
type EvaluateOptions struct {
	ModelPath  string // defaults to the layout's model file
	Baseline   string // defaults to train.csv beside the test file; "-" disables drift
	Importance evaluate.ImportanceOptions
}

// Evaluate scores the artifact on the test partition and writes the reports.
// Scores are published to the metrics sink and attached to the registered
// model version when there is one.
func (r *Runner) Evaluate(ctx context.Context, sio StageIO, opts EvaluateOptions) (*evaluate.Evaluation, error) {
	src := sio.source(r.layout.TrainTestDir(), common.TestFile)
	modelPath := opts.ModelPath
	if modelPath == "" {
		modelPath = r.layout.ModelPath()
	}
	baselinePath := opts.Baseline
	if baselinePath == "" {
		baselinePath = filepath.Join(filepath.Dir(src), common.TrainFile)
	}
	reportsDir := sio.dest(r.layout.ReportsDir())

	var eval *evaluate.Evaluation
	err := r.stage(ctx, common.StageEvaluate, func(ctx context.Context) (stageResult, error) {
		a, err := ml.LoadArtifact(modelPath)
		if err != nil {
			return stageResult{}, err
		}
		test, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: test.Len()}

		evalOpts := evaluate.Options{Importance: opts.Importance, TestFile: src}
		if baselinePath != "-" {
			baseline, err := dataset.ReadCSV(baselinePath)
			switch {
			case errors.Is(err, os.ErrNotExist):
				log.Warn().Str("path", baselinePath).Msg("No baseline partition, skipping drift")
			case err != nil:
				return res, err
			default:
				evalOpts.Baseline = baseline
			}
		}

		if eval, err = evaluate.Evaluate(ctx, a, test, evalOpts); err != nil {
			return res, err
		}
		if err := evaluate.NewReporter(eval, reportsDir).GenerateReport(); err != nil {
			return res, err
		}
		eval.Publish(r.sink)

		if r.store != nil {
			err := ml.NewModelManager(r.store).UpdateMetrics(a.Version, eval.ModelMetrics(a.TrainRows))
			switch {
			case errors.Is(err, storage.ErrNotFound):
				log.Debug().Str("version", a.Version).Msg("Evaluated model is not registered")
			case err != nil:
				return res, err
			}
		}

		res.rowsOut = eval.Scores.Support
		res.classes = dataset.CountLabels(eval.Predicted)
		res.output = reportsDir
		return res, nil
	})
	return eval, err
}

// Predict scores every row of a CSV with an artifact and writes the input
// columns followed by predicted, fraud_probability and flagged.
func (r *Runner) Predict(ctx context.Context, sio StageIO, modelPath string) (*dataset.Frame, error) {
	src := sio.source(r.layout.TrainTestDir(), common.TestFile)
	if modelPath == "" {
		modelPath = r.layout.ModelPath()
	}
	dst := filepath.Join(sio.dest(r.layout.ReportsDir()), common.ScoredFile)

	var out *dataset.Frame
	err := r.stage(ctx, common.StagePredict, func(ctx context.Context) (stageResult, error) {
		a, err := ml.LoadArtifact(modelPath)
		if err != nil {
			return stageResult{}, err
		}
		fr, err := dataset.ReadCSV(src)
		if err != nil {
			return stageResult{}, err
		}
		res := stageResult{rowsIn: fr.Len()}

		X, err := fr.Select(a.Features)
		if err != nil {
			return res, err
		}
		preds, err := ml.NewPredictorFromArtifact(a, r.settings.ProbThreshold, r.scoring).PredictBatch(X)
		if err != nil {
			return res, err
		}

		columns := append(append([]string(nil), fr.Columns...), "predicted", "fraud_probability", "flagged")
		out = dataset.New(columns)
		labels := make([]int, len(preds))
		for i, p := range preds {
			flagged := 0.0
			if p.Flagged {
				flagged = 1
			}
			row := append(append(make([]float64, 0, len(columns)), fr.Rows[i]...), float64(p.Label), p.FraudProbability, flagged)
			out.Rows = append(out.Rows, row)
			labels[i] = p.Label
		}
		if err := dataset.WriteCSV(dst, out); err != nil {
			return res, err
		}
		res.rowsOut, res.classes, res.output = out.Len(), dataset.CountLabels(labels), dst
		return res, nil
	})
	return out, err
}

// Run executes split, clean, scale, resample, fit and evaluate over the
// default layout.
func (r *Runner) Run(ctx context.Context) (*evaluate.Evaluation, error) {
	if _, _, err := r.Split(ctx, StageIO{}); err != nil {
		return nil, err
	}
	if _, err := r.Clean(ctx, StageIO{}); err != nil {
		return nil, err
	}
	if _, _, err := r.Scale(ctx, StageIO{}, nil); err != nil {
		return nil, err
	}
	if _, err := r.Resample(ctx, StageIO{}); err != nil {
		return nil, err
	}
	if _, err := r.Fit(ctx, StageIO{}); err != nil {
		return nil, err
	}
	return r.Evaluate(ctx, StageIO{}, EvaluateOptions{})
}
