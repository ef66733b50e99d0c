package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appStateKey = "app-state"

	formatJSON = "json"
	formatYAML = "yaml"
)

var version = "v0.0.1-default"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML config file",
		Sources: cli.EnvVars("CONFIG_FILE"),
	}

	dataRootFlag = &cli.StringFlag{
		Name:  "data-root",
		Usage: "Root of the data directory layout (overrides config)",
	}

	dbFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "Directory holding the run history and model registry (defaults to the data root)",
	}

	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level [debug, info, warn, error] (overrides config)",
	}

	metricsFileFlag = &cli.StringFlag{
		Name:  "metrics-file",
		Usage: "Write Prometheus metrics in text format to this file on exit",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

// appState is built once per invocation in Before.
type appState struct {
	settings cfg.Settings
	store    *storage.Store
	registry *prometheus.Registry
	metrics  *metrics.MetricsWrapper
	format   string
}

func main() {
	initLogging(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("fraudctl failed")
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:     "fraudctl",
		Usage:    "Train, evaluate and serve the credit-card fraud classifier",
		Version:  version,
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			configFlag,
			dataRootFlag,
			dbFlag,
			logLevelFlag,
			metricsFileFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			fetchCmd(),
			generateCmd(),
			splitCmd(),
			cleanCmd(),
			scaleCmd(),
			resampleCmd(),
			fitCmd(),
			evaluateCmd(),
			runCmd(),
			predictCmd(),
			serveCmd(),
			modelsCmd(),
			runsCmd(),
			inspectCmd(),
		},
		Before: before,
		After:  after,
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return ctx, err
	}

	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		return ctx, fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	initLogging(level)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	state := &appState{
		settings: settings,
		store:    initializeStorage(settings),
		registry: registry,
		metrics:  metrics.NewWrapper(metrics.NewWithRegistry(registry)),
		format:   cmd.String(formatFlag.Name),
	}
	cmd.Metadata[appStateKey] = state
	return ctx, nil
}

func after(ctx context.Context, cmd *cli.Command) error {
	state, ok := cmd.Metadata[appStateKey].(*appState)
	if !ok {
		return nil
	}
	if state.store != nil {
		if err := state.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if path := state.settings.MetricsFile; path != "" {
		if err := prometheus.WriteToTextfile(path, state.registry); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
		log.Debug().Str("path", path).Msg("Metrics written")
	}
	return nil
}

func loadSettings(cmd *cli.Command) (cfg.Settings, error) {
	var (
		settings cfg.Settings
		err      error
	)
	if path := cmd.String(configFlag.Name); path != "" {
		settings, err = cfg.LoadFile(path)
	} else {
		settings, err = cfg.Load()
	}
	if err != nil {
		return settings, fmt.Errorf("config load failed: %w", err)
	}

	if v := cmd.String(dataRootFlag.Name); v != "" {
		settings.DataRoot = v
	}
	if v := cmd.String(dbFlag.Name); v != "" {
		settings.DataPath = v
	}
	if v := cmd.String(logLevelFlag.Name); v != "" {
		settings.LogLevel = v
	}
	if v := cmd.String(metricsFileFlag.Name); v != "" {
		settings.MetricsFile = v
	}
	return settings, cfg.Validate(&settings)
}

func initLogging(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// initializeStorage opens the registry under DATA_PATH, or under the data
// root when unset. A locked or unreadable database leaves the command running
// without persistence.
func initializeStorage(s cfg.Settings) *storage.Store {
	dir := s.DataPath
	if dir == "" {
		dir = s.DataRoot
	}
	store, err := storage.New(dir)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

func getState(cmd *cli.Command) *appState {
	return cmd.Root().Metadata[appStateKey].(*appState)
}

// newRunner builds a runner for one command with a fresh run ID.
func newRunner(cmd *cli.Command, settings *cfg.Settings) *pipeline.Runner {
	state := getState(cmd)
	opts := []pipeline.Option{
		pipeline.WithObservers(pipeline.LogObserver{}),
		pipeline.WithMetrics(state.metrics),
	}
	if state.store != nil {
		opts = append(opts, pipeline.WithStore(state.store))
	}
	return pipeline.NewRunner(settings, uuid.NewString(), opts...)
}

// settingsFor copies the loaded settings so a command can apply its flags.
func settingsFor(cmd *cli.Command) *cfg.Settings {
	s := getState(cmd).settings
	s.ScaleColumns = append([]string(nil), s.ScaleColumns...)
	return &s
}

func encode(cmd *cli.Command, v any) error {
	if getState(cmd).format == formatYAML {
		return yaml.NewEncoder(os.Stdout).Encode(v)
	}
	e := json.NewEncoder(os.Stdout)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
