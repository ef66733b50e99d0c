package main

import (
	"context"
	"fmt"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/evaluate"
	"fraud-pipeline/internal/pipeline"

	"github.com/urfave/cli/v3"
)

// ioFlags are shared by every file-handoff stage.
func ioFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "src", Usage: "Source file name, or an absolute path"},
		&cli.StringFlag{Name: "src-dir", Usage: "Source directory"},
		&cli.StringFlag{Name: "dst-dir", Usage: "Destination directory"},
		&cli.StringFlag{Name: "sort-by", Usage: "Column the output is sorted by"},
	}
}

func stageIO(cmd *cli.Command) pipeline.StageIO {
	return pipeline.StageIO{
		Src:    cmd.String("src"),
		SrcDir: cmd.String("src-dir"),
		DstDir: cmd.String("dst-dir"),
		SortBy: cmd.String("sort-by"),
		Scaler: cmd.String("scaler"),
	}
}

func scalerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "scaler",
		Usage: "Scaler state file (defaults to scaler.json beside the source), '" + pipeline.NoScaler + "' for unscaled input",
	}
}

func seedFlag() cli.Flag {
	return &cli.Int64Flag{Name: "seed", Usage: "Random seed (overrides config)"}
}

func withFlags(extra ...cli.Flag) []cli.Flag {
	return append(ioFlags(), extra...)
}

// stageAction wraps a stage in a tracked run. apply maps command flags onto
// the settings before they are validated.
func stageAction(name string, apply func(cmd *cli.Command, s *cfg.Settings), fn func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		settings := settingsFor(cmd)
		if cmd.IsSet("seed") {
			settings.Seed = cmd.Int64("seed")
		}
		if apply != nil {
			apply(cmd, settings)
		}
		if err := cfg.Validate(settings); err != nil {
			return fmt.Errorf("invalid %s parameters: %w", name, err)
		}
		r := newRunner(cmd, settings)
		return r.Track(ctx, name, func(ctx context.Context) error {
			return fn(ctx, cmd, r)
		})
	}
}

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download the raw dataset into raw/",
		Flags: withFlags(
			&cli.StringFlag{Name: "url", Usage: "Dataset URL (overrides config)"},
		),
		Action: stageAction("fetch", nil, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Fetch(ctx, cmd.String("url"), stageIO(cmd))
			return err
		}),
	}
}

func generateCmd() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Write a synthetic raw dataset into raw/",
		Flags: withFlags(
			&cli.IntFlag{Name: "rows", Usage: "Total rows", Value: 10000},
			&cli.IntFlag{Name: "fraud", Usage: "Fraud rows", Value: 50},
			&cli.IntFlag{Name: "features", Usage: "Number of V columns", Value: 28},
			seedFlag(),
		),
		Action: stageAction("generate", nil, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Generate(ctx, dataset.SynthOptions{
				Rows:     cmd.Int("rows"),
				Fraud:    cmd.Int("fraud"),
				Features: cmd.Int("features"),
				Seed:     r.Settings().Seed,
			}, stageIO(cmd))
			return err
		}),
	}
}

func splitCmd() *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "Split the raw dataset into train and test partitions",
		Flags: withFlags(
			&cli.FloatFlag{Name: "test-size", Usage: "Test fraction in (0, 1)"},
			&cli.BoolFlag{Name: "no-stratify", Usage: "Disable class-stratified splitting"},
			seedFlag(),
		),
		Action: stageAction("split", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("test-size") {
				s.TestSize = cmd.Float("test-size")
			}
			if cmd.Bool("no-stratify") {
				s.Stratify = false
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, _, err := r.Split(ctx, stageIO(cmd))
			return err
		}),
	}
}

func cleanCmd() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Drop legit rows above the amount threshold",
		Flags: withFlags(
			&cli.StringFlag{Name: "column", Usage: "Column the threshold applies to"},
			&cli.FloatFlag{Name: "threshold", Usage: "Largest value kept for legit rows"},
		),
		Action: stageAction("clean", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("column") {
				s.CleanColumn = cmd.String("column")
			}
			if cmd.IsSet("threshold") {
				s.CleanThreshold = cmd.Float("threshold")
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Clean(ctx, stageIO(cmd))
			return err
		}),
	}
}

func scaleCmd() *cli.Command {
	return &cli.Command{
		Name:  "scale",
		Usage: "Robust-scale columns and persist the scaler state",
		Flags: withFlags(
			&cli.StringSliceFlag{Name: "columns", Usage: "Columns to scale"},
		),
		Action: stageAction("scale", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("columns") {
				s.ScaleColumns = cmd.StringSlice("columns")
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, _, err := r.Scale(ctx, stageIO(cmd), nil)
			return err
		}),
	}
}

func resampleCmd() *cli.Command {
	return &cli.Command{
		Name:  "resample",
		Usage: "Random undersampling followed by Tomek-link cleaning",
		Flags: withFlags(
			&cli.StringFlag{Name: "strategy", Usage: "Tomek strategy [majority, both]"},
			scalerFlag(),
			seedFlag(),
		),
		Action: stageAction("resample", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("strategy") {
				s.TomekStrategy = cmd.String("strategy")
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Resample(ctx, stageIO(cmd))
			return err
		}),
	}
}

func fitCmd() *cli.Command {
	return &cli.Command{
		Name:  "fit",
		Usage: "Fit the voting ensemble and persist the artifact",
		Flags: withFlags(
			&cli.StringFlag{Name: "voting", Usage: "Voting rule [hard, soft]"},
			&cli.FloatFlag{Name: "svm-c", Usage: "SVM regularisation strength"},
			&cli.IntFlag{Name: "knn-neighbors", Usage: "Neighbours of the KNN member"},
			&cli.IntFlag{Name: "bagging-estimators", Usage: "Logistic regressions in the bagging member"},
			scalerFlag(),
			seedFlag(),
		),
		Action: stageAction("fit", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("voting") {
				s.Model.Voting = cmd.String("voting")
			}
			if cmd.IsSet("svm-c") {
				s.Model.SVMC = cmd.Float("svm-c")
			}
			if cmd.IsSet("knn-neighbors") {
				s.Model.KNNNeighbors = cmd.Int("knn-neighbors")
			}
			if cmd.IsSet("bagging-estimators") {
				s.Model.BaggingEstimators = cmd.Int("bagging-estimators")
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Fit(ctx, stageIO(cmd))
			return err
		}),
	}
}

func evaluateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model", Usage: "Model artifact (defaults to the classifiers directory)"},
		&cli.StringFlag{Name: "baseline", Usage: "Baseline partition for drift, '-' to skip"},
		&cli.IntFlag{Name: "importance-repeats", Usage: "Permutation importance repeats, 0 disables it"},
		&cli.IntFlag{Name: "importance-samples", Usage: "Rows used for permutation importance", Value: 2000},
	}
}

func evaluateOptions(cmd *cli.Command, seed int64) pipeline.EvaluateOptions {
	return pipeline.EvaluateOptions{
		ModelPath: cmd.String("model"),
		Baseline:  cmd.String("baseline"),
		Importance: evaluate.ImportanceOptions{
			Repeats:    cmd.Int("importance-repeats"),
			MaxSamples: cmd.Int("importance-samples"),
			Seed:       seed,
		},
	}
}

func evaluateCmd() *cli.Command {
	return &cli.Command{
		Name:  "evaluate",
		Usage: "Score the artifact on the test partition and write reports",
		Flags: withFlags(append(evaluateFlags(), seedFlag())...),
		Action: stageAction("evaluate", nil, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			eval, err := r.Evaluate(ctx, stageIO(cmd), evaluateOptions(cmd, r.Settings().Seed))
			if err != nil {
				return err
			}
			return encode(cmd, eval)
		}),
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run split, clean, scale, resample, fit and evaluate",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fetch", Usage: "Download the raw dataset first"},
			&cli.BoolFlag{Name: "generate", Usage: "Generate a synthetic raw dataset first"},
			seedFlag(),
		},
		Action: stageAction("run", nil, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			switch {
			case cmd.Bool("fetch") && cmd.Bool("generate"):
				return fmt.Errorf("--fetch and --generate are mutually exclusive")
			case cmd.Bool("fetch"):
				if _, err := r.Fetch(ctx, "", pipeline.StageIO{}); err != nil {
					return err
				}
			case cmd.Bool("generate"):
				opts := dataset.SynthOptions{Rows: 10000, Fraud: 50, Features: 28, Seed: r.Settings().Seed}
				if _, err := r.Generate(ctx, opts, pipeline.StageIO{}); err != nil {
					return err
				}
			}
			eval, err := r.Run(ctx)
			if err != nil {
				return err
			}
			return encode(cmd, eval.Scores)
		}),
	}
}

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Score a CSV of transactions into reports/scored.csv",
		Flags: withFlags(
			&cli.StringFlag{Name: "model", Usage: "Model artifact (defaults to the classifiers directory)"},
			&cli.FloatFlag{Name: "threshold", Usage: "Fraud probability that flags a row"},
		),
		Action: stageAction("predict", func(cmd *cli.Command, s *cfg.Settings) {
			if cmd.IsSet("threshold") {
				s.ProbThreshold = cmd.Float("threshold")
			}
		}, func(ctx context.Context, cmd *cli.Command, r *pipeline.Runner) error {
			_, err := r.Predict(ctx, stageIO(cmd), cmd.String("model"))
			return err
		}),
	}
}
