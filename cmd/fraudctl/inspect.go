package main

import (
	"context"

	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/pipeline"

	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarise a dataset file (defaults to the raw dataset)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "src", Usage: "File to inspect"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			settings := settingsFor(cmd)
			path := cmd.String("src")
			if path == "" {
				path = pipeline.NewLayout(settings).RawPath()
			}
			fr, err := dataset.ReadCSV(path)
			if err != nil {
				return err
			}
			return encode(cmd, dataset.Describe(fr, settings.Target))
		},
	}
}
