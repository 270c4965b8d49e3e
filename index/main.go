package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cmd := &cli.Command{
		Name:      "index",
		Usage:     "Index one Salesforce opportunity into Elasticsearch",
		ArgsUsage: "<opportunity-url-or-id>",
		Flags:     app.CommonFlags(),
		Action:    run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("exactly one opportunity URL or ID is required")
	}
	input := cmd.Args().First()

	env, err := app.Setup(cmd, "index", nil)
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

	p := pipeline.New(sf, es, models.SourceSingle, pipeline.WithLogger(log))
	doc, err := p.Process(ctx, input)
	if err != nil {
		log.Error("index opportunity", slog.String("input", input), slog.Any("err", err))
		return err
	}

	fmt.Printf("Indexed opportunity %s into %s\n", doc.OpportunityID, es.Index())
	return nil
}
