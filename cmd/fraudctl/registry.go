package main

import (
	"context"
	"errors"
	"fmt"

	"fraud-pipeline/internal/ml"

	"github.com/urfave/cli/v3"
)

var errNoStore = errors.New("model registry unavailable, check --db")

func managerFor(cmd *cli.Command) (*ml.ModelManager, error) {
	state := getState(cmd)
	if state.store == nil {
		return nil, errNoStore
	}
	return ml.NewModelManager(state.store), nil
}

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "Inspect and switch registered model versions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List model versions, newest first",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					mm, err := managerFor(cmd)
					if err != nil {
						return err
					}
					versions, err := mm.ListVersions()
					if err != nil {
						return fmt.Errorf("failed to list model versions: %w", err)
					}
					return encode(cmd, versions)
				},
			},
			{
				Name:      "activate",
				Usage:     "Make a version the active model",
				ArgsUsage: "<version>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					version := cmd.Args().First()
					if version == "" {
						return fmt.Errorf("version argument is required")
					}
					mm, err := managerFor(cmd)
					if err != nil {
						return err
					}
					return mm.ActivateVersion(version)
				},
			},
			{
				Name:  "rollback",
				Usage: "Activate the version registered before the active one",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					mm, err := managerFor(cmd)
					if err != nil {
						return err
					}
					v, err := mm.Rollback()
					if err != nil {
						return fmt.Errorf("rollback failed: %w", err)
					}
					return encode(cmd, v)
				},
			},
		},
	}
}

func runsCmd() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect the run history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Limit the number of results, 0 for all", Value: 20},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					state := getState(cmd)
					if state.store == nil {
						return errNoStore
					}
					runs, err := state.store.ListRuns(cmd.Int("limit"))
					if err != nil {
						return fmt.Errorf("failed to list runs: %w", err)
					}
					return encode(cmd, runs)
				},
			},
		},
	}
}
