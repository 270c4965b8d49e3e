package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
	"github.com/DeafMist/opportunity-indexer/internal/report"
	"github.com/DeafMist/opportunity-indexer/internal/salesforce"
)

type opportunitySource interface {
	GetAccounts(ctx context.Context, ids []string) (map[string]models.Account, error)
	QueryClosedOpportunities(ctx context.Context, filter salesforce.ClosedFilter) ([]models.ClosedOpportunity, error)
}

type documentSink interface {
	EnsureIndex(ctx context.Context) error
	BulkIndex(ctx context.Context, docs []elasticsearch.BulkDoc) (*elasticsearch.BulkResult, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cmd := &cli.Command{
		Name:      "accounts",
		Usage:     "Analyse closed opportunities for one or more Salesforce accounts",
		ArgsUsage: "[account-url-or-id...]",
		Flags: append(app.CommonFlags(),
			&cli.StringFlag{Name: "accounts-file", Aliases: []string{"f"}, Usage: "file with one account URL or ID per line"},
			&cli.BoolFlag{Name: "won-only", Usage: "only closed won opportunities"},
			&cli.BoolFlag{Name: "lost-only", Usage: "only closed lost opportunities"},
			&cli.StringFlag{Name: "date-from", Usage: "earliest close date (YYYY-MM-DD or MM/DD/YYYY)"},
			&cli.StringFlag{Name: "date-to", Usage: "latest close date (YYYY-MM-DD or MM/DD/YYYY)"},
			&cli.IntFlag{Name: "limit", Usage: "maximum number of opportunities"},
			&cli.StringFlag{Name: "output-file", Usage: "JSON export path (default account_opportunities_<timestamp>.json)"},
			&cli.BoolFlag{Name: "json-only", Usage: "write the JSON export without indexing to Elasticsearch"},
		),
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	ids, err := collectAccountIDs(cmd.Args().Slice(), cmd.String("accounts-file"))
	if err != nil {
		return err
	}
	filter, err := buildFilter(ids, cmd)
	if err != nil {
		return err
	}

	env, err := app.Setup(cmd, "accounts", nil)
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

	var sink documentSink
	if !cmd.Bool("json-only") {
		es, err := env.Elasticsearch()
		if err != nil {
			log.Error("init elasticsearch", slog.Any("err", err))
			return err
		}
		sink = es.WithIndex(es.Index()+"-accounts", elasticsearch.ClosedOpportunityMapping)
	}

	now := time.Now()
	export, err := analyze(ctx, log, sf, sink, filter, now, os.Stdout)
	if err != nil {
		return err
	}

	path := cmd.String("output-file")
	if path == "" {
		path = report.DefaultExportPath(now)
	}
	if err := report.WriteJSON(path, export); err != nil {
		log.Error("write export", slog.String("file", path), slog.Any("err", err))
		return err
	}
	fmt.Printf("Results saved to %s\n", path)
	return nil
}

// collectAccountIDs merges IDs from positional arguments and the accounts
// file, keeping the first occurrence of each.
func collectAccountIDs(args []string, file string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, arg := range args {
		id, err := processing.ExtractAccountID(arg)
		if err != nil {
			return nil, err
		}
		add(id)
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open accounts file: %w", err)
		}
		defer f.Close()

		fromFile, rejected, err := processing.ExtractIDs(f, processing.AccountPrefix)
		if err != nil {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		for _, r := range rejected {
			fmt.Fprintf(os.Stderr, "skipping line %d: %v\n", r.Line, r.Err)
		}
		for _, id := range fromFile {
			add(id)
		}
	}

	if len(ids) == 0 {
		return nil, errors.New("no valid account IDs given")
	}
	return ids, nil
}

func buildFilter(ids []string, cmd *cli.Command) (salesforce.ClosedFilter, error) {
	filter := salesforce.ClosedFilter{
		AccountIDs: ids,
		WonOnly:    cmd.Bool("won-only"),
		LostOnly:   cmd.Bool("lost-only"),
		Limit:      int(cmd.Int("limit")),
	}
	if raw := cmd.String("date-from"); raw != "" {
		t, err := salesforce.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("--date-from: %w", err)
		}
		filter.DateFrom = t
	}
	if raw := cmd.String("date-to"); raw != "" {
		t, err := salesforce.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("--date-to: %w", err)
		}
		filter.DateTo = t
	}
	if _, err := filter.SOQL(); err != nil {
		return filter, err
	}
	return filter, nil
}

// analyze fetches, maps and summarises the closed opportunities. A nil sink
// skips indexing.
func analyze(ctx context.Context, log *slog.Logger, src opportunitySource, sink documentSink, filter salesforce.ClosedFilter, now time.Time, out io.Writer) (report.Export, error) {
	accounts, err := src.GetAccounts(ctx, filter.AccountIDs)
	if err != nil {
		log.Error("fetch accounts", slog.Any("err", err))
		return report.Export{}, err
	}
	for _, id := range filter.AccountIDs {
		if _, ok := accounts[id]; !ok {
			log.Warn("account not found", slog.String("account_id", id))
		}
	}

	recs, err := src.QueryClosedOpportunities(ctx, filter)
	if err != nil {
		log.Error("query closed opportunities", slog.Any("err", err))
		return report.Export{}, err
	}
	log.Info("closed opportunities fetched", slog.Int("count", len(recs)))

	docs := make([]models.ClosedOpportunityDocument, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, processing.MapClosedOpportunity(rec, now))
	}

	analysis := report.AnalyzeByAccount(docs, accounts)
	if err := report.Render(out, analysis); err != nil {
		return report.Export{}, err
	}

	if sink != nil && len(docs) > 0 {
		if err := sink.EnsureIndex(ctx); err != nil {
			log.Error("ensure accounts index", slog.Any("err", err))
			return report.Export{}, err
		}
		bulk := make([]elasticsearch.BulkDoc, 0, len(docs))
		for _, d := range docs {
			bulk = append(bulk, elasticsearch.BulkDoc{ID: d.OpportunityID, Body: d})
		}
		res, err := sink.BulkIndex(ctx, bulk)
		if err != nil {
			log.Error("bulk index", slog.Any("err", err))
			return report.Export{}, err
		}
		fmt.Fprintf(out, "\nIndexed %d opportunities, %d failed\n", res.Indexed, res.Failed)
		for _, f := range res.Failures {
			fmt.Fprintf(out, "   %s: %s\n", f.ID, f.Reason)
		}
	}

	params := report.Parameters{
		AccountIDs: filter.AccountIDs,
		WonOnly:    filter.WonOnly,
		LostOnly:   filter.LostOnly,
		Limit:      filter.Limit,
	}
	if !filter.DateFrom.IsZero() {
		params.DateFrom = filter.DateFrom.Format(time.DateOnly)
	}
	if !filter.DateTo.IsZero() {
		params.DateTo = filter.DateTo.Format(time.DateOnly)
	}

	return report.Export{
		Analysis:      analysis,
		Opportunities: docs,
		AccountInfo:   accounts,
		Parameters:    params,
		GeneratedAt:   now.UTC(),
	}, nil
}
