package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fraud-pipeline/internal/ml"
	"fraud-pipeline/internal/pipeline"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const serverShutdownWait = 10 * time.Second

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve /predict over the active model version",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "Port on which the server will listen (overrides config)"},
			&cli.StringFlag{Name: "model", Usage: "Model artifact, bypassing the registry"},
			&cli.FloatFlag{Name: "threshold", Usage: "Fraud probability that flags a transaction"},
		},
		Action: cmdServe,
	}
}

func cmdServe(ctx context.Context, cmd *cli.Command) error {
	state := getState(cmd)
	settings := settingsFor(cmd)
	if cmd.IsSet("port") {
		settings.ServerPort = cmd.Int("port")
	}
	if cmd.IsSet("threshold") {
		settings.ProbThreshold = cmd.Float("threshold")
	}

	var manager *ml.ModelManager
	if state.store != nil {
		manager = ml.NewModelManager(state.store)
	}

	modelPath, err := resolveModel(cmd.String("model"), manager, pipeline.NewLayout(settings))
	if err != nil {
		return err
	}
	predictor, err := ml.NewPredictorWithMetrics(modelPath, settings.ProbThreshold, state.metrics)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	server := ml.NewModelServer(predictor, manager, settings.ServerPort, state.registry)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("model server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownWait)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown model server: %w", err)
	}
	log.Info().Msg("model server stopped")
	return nil
}

// resolveModel picks the explicit path, then the active registry version,
// then the layout's model file.
func resolveModel(explicit string, manager *ml.ModelManager, layout pipeline.Layout) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if manager != nil {
		current, err := manager.GetCurrentVersion()
		if err != nil {
			return "", fmt.Errorf("failed to read model registry: %w", err)
		}
		if current != nil {
			log.Info().Str("version", current.Version).Msg("Serving active model version")
			return current.Path, nil
		}
	}
	return layout.ModelPath(), nil
}
