package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
	"github.com/DeafMist/opportunity-indexer/internal/batch"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/pipeline"
)

var errItemsFailed = errors.New("one or more opportunities failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cmd := &cli.Command{
		Name:      "batch",
		Usage:     "Index every opportunity URL or ID listed in a file",
		ArgsUsage: "<file>",
		Flags: append(app.CommonFlags(),
			&cli.StringFlag{
				Name:    "results-file",
				Aliases: []string{"r"},
				Usage:   "where to write the JSON run summary (default batch_results_<timestamp>.json)",
			},
		),
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("exactly one input file is required")
	}
	path := cmd.Args().First()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	env, err := app.Setup(cmd, "batch", nil)
	if err != nil {
		return err
	}
	defer env.Close()
	log := env.Log

	sf, _, err := env.Salesforce(ctx)
	if err != nil {
		log.Error("salesforce session", slog.Any("err", err))
		return err
	}
	es, err := env.Elasticsearch()
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		return err
	}
	if err := es.EnsureIndex(ctx); err != nil {
		log.Error("ensure index", slog.String("index", es.Index()), slog.Any("err", err))
		return err
	}

	p := pipeline.New(sf, es, models.SourceBatch, pipeline.WithLogger(log))
	driver := batch.NewDriver(p, log)
	driver.Name = path

	// A read error still leaves the items handled so far worth reporting.
	summary, readErr := driver.Run(ctx, f)
	if readErr != nil {
		log.Error("read input", slog.String("file", path), slog.Any("err", readErr))
	}

	if err := batch.Render(os.Stdout, summary); err != nil {
		return err
	}

	resultsPath := cmd.String("results-file")
	if resultsPath == "" {
		resultsPath = batch.DefaultResultsPath(time.Now())
	}
	if err := batch.WriteJSON(resultsPath, summary); err != nil {
		log.Error("write results", slog.String("file", resultsPath), slog.Any("err", err))
		return err
	}
	fmt.Printf("Results saved to %s\n", resultsPath)

	if readErr != nil {
		return readErr
	}
	if !summary.OK() {
		return errItemsFailed
	}
	return nil
}
