// Package app holds the startup wiring shared by the programs: common flags,
// config, logger and the Salesforce and Elasticsearch clients.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/salesforce"
)

// Flag names shared by every program.
const (
	FlagTargetOrg = "target-org"
	FlagVerbose   = "verbose"
	FlagOneTime   = "one-time"
)

// CommonFlags returns fresh copies of the shared flags.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagTargetOrg,
			Aliases: []string{"o"},
			Usage:   "Salesforce org alias or username (defaults to the CLI default org)",
			Sources: cli.EnvVars("SF_TARGET_ORG"),
		},
		&cli.BoolFlag{
			Name:    FlagVerbose,
			Aliases: []string{"v"},
			Usage:   "enable debug logging",
		},
		&cli.BoolFlag{
			Name:  FlagOneTime,
			Usage: "log to stderr only and skip the log file",
		},
	}
}

// Env is the per-run state built from flags and environment.
type Env struct {
	Config *config.Config
	Log    *slog.Logger
	closer io.Closer
}

// Setup loads configuration and builds the logger for service. console
// receives log lines in addition to the log file; nil means stdout.
func Setup(cmd *cli.Command, service string, console io.Writer) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if org := cmd.String(FlagTargetOrg); org != "" {
		cfg.Salesforce.TargetOrg = org
	}
	if cmd.Bool(FlagVerbose) {
		cfg.Logging.Level = "debug"
	}

	opts := logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
		Out:    console,
	}
	if cmd.Bool(FlagOneTime) {
		opts.Dir = ""
		opts.Out = os.Stderr
	}

	log, closer, err := logger.New(service, opts)
	if err != nil {
		return nil, err
	}
	return &Env{Config: cfg, Log: log, closer: closer}, nil
}

// Close releases the log file.
func (e *Env) Close() error {
	return e.closer.Close()
}

// Salesforce loads the CLI session and returns a REST client bound to it.
func (e *Env) Salesforce(ctx context.Context) (*salesforce.Client, *salesforce.Session, error) {
	sf := e.Config.Salesforce
	sess, err := salesforce.LoadSession(ctx, salesforce.ExecRunner{Path: sf.CLIPath}, sf.TargetOrg)
	if err != nil {
		return nil, nil, err
	}
	e.Log.Info("salesforce session loaded",
		slog.String("instance", sess.InstanceURL),
		slog.String("username", sess.Username),
	)

	base := &http.Client{Timeout: sf.Timeout}
	client := salesforce.NewClient(sess.HTTPClient(ctx, base), sess.InstanceURL, sf.APIVersion, e.Config.Retry, e.Log)
	return client, sess, nil
}

// Elasticsearch returns a client for the configured index.
func (e *Env) Elasticsearch() (*elasticsearch.Client, error) {
	es, err := elasticsearch.New(e.Config.Elasticsearch, e.Config.Retry, e.Log)
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	return es, nil
}
