package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
	"github.com/DeafMist/opportunity-indexer/internal/batch"
	"github.com/DeafMist/opportunity-indexer/internal/menu"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	// Restore default signal handling once the first signal arrives so a
	// second Ctrl-C always ends the process.
	go func() {
		<-ctx.Done()
		stop()
	}()

	cmd := &cli.Command{
		Name:   "interactive",
		Usage:  "Menu-driven opportunity indexing",
		Flags:  app.CommonFlags(),
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// Logs go to the file only so they do not interleave with the menu.
	env, err := app.Setup(cmd, "interactive", io.Discard)
	if err != nil {
		return err
	}
	defer env.Close()
	log := env.Log

	sf, sess, err := env.Salesforce(ctx)
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

	p := pipeline.New(sf, es, models.SourceInteractive, pipeline.WithLogger(log))
	svc := menu.Services{
		Opportunities: p,
		Index:         es,
		Settings:      env.Config.Redacted(),
		Batch: func(ctx context.Context, path string) (batch.Summary, error) {
			f, err := os.Open(path)
			if err != nil {
				return batch.Summary{}, err
			}
			defer f.Close()
			d := batch.NewDriver(p, log)
			d.Name = path
			return d.Run(ctx, f)
		},
	}

	fmt.Printf("Connected to %s as %s\n", sess.InstanceURL, sess.Username)
	prompter := menu.NewPrompter(os.Stdin, os.Stdout)
	m := menu.New("Salesforce to Elasticsearch - interactive mode", menu.StandardActions(svc), prompter, log)
	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("Goodbye!")
	return nil
}
