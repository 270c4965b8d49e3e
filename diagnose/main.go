package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/retry"
)

var errChecksFailed = errors.New("one or more checks failed")

// secretVars are reported by length only.
var secretVars = map[string]bool{"ES_PASSWORD": true, "ES_API_KEY": true}

var checkedVars = []string{
	"ES_CLUSTER_URL", "ES_USERNAME", "ES_PASSWORD", "ES_API_KEY", "ES_INDEX",
	"ES_VERIFY_CERTS", "ES_CA_CERT", "SF_TARGET_ORG", "SF_CLI_PATH", "SF_API_VERSION",
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cmd := &cli.Command{
		Name:   "diagnose",
		Usage:  "Check environment, Salesforce session and Elasticsearch connectivity",
		Flags:  app.CommonFlags(),
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	_ = godotenv.Load()
	printEnvironment(os.Stdout, os.LookupEnv)

	env, err := app.Setup(cmd, "diagnose", os.Stderr)
	if err != nil {
		fmt.Printf("\nFAIL configuration: %v\n", err)
		return err
	}
	defer env.Close()
	log := env.Log
	cfg := env.Config

	fmt.Printf("\nConfiguration:\n")
	for _, kv := range cfg.Redacted() {
		fmt.Printf("   %-18s %s\n", kv[0]+":", kv[1])
	}

	es, err := env.Elasticsearch()
	if err != nil {
		fmt.Printf("\nFAIL elasticsearch client: %v\n", err)
		return err
	}
	accounts := es.WithIndex(es.Index()+"-accounts", elasticsearch.ClosedOpportunityMapping)

	checks := []check{
		{name: "salesforce session", run: func(ctx context.Context) (string, error) {
			_, sess, err := env.Salesforce(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s as %s", sess.InstanceURL, sess.Username), nil
		}},
		{name: "elasticsearch ping", run: func(ctx context.Context) (string, error) {
			// The cluster may still be starting; retry like the writers do.
			_, err := retry.Do(ctx, cfg.Retry, log, "ping elasticsearch", func() (struct{}, error) {
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return struct{}{}, es.Ping(pingCtx)
			})
			if err != nil {
				return "", err
			}
			return cfg.Elasticsearch.ClusterURL, nil
		}},
		{name: "cluster info", run: func(ctx context.Context) (string, error) {
			info, err := es.Info(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (node %s, version %s)", info.ClusterName, info.Name, info.Version.Number), nil
		}},
		{name: "cluster health", run: func(ctx context.Context) (string, error) {
			h, err := es.Health(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s, %d nodes", h.Status, h.NumberOfNodes), nil
		}},
		{name: "opportunity index", run: indexCheck(es)},
		{name: "accounts index", run: indexCheck(accounts)},
	}

	if failed := runChecks(ctx, os.Stdout, checks); failed > 0 {
		log.Error("diagnose finished with failures", slog.Int("failed", failed))
		return errChecksFailed
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func indexCheck(es *elasticsearch.Client) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		st, err := es.Status(ctx)
		if err != nil {
			return "", err
		}
		if !st.Exists {
			return fmt.Sprintf("%s not created yet", st.Index), nil
		}
		conflicts, err := es.MappingConflicts(ctx)
		if err != nil {
			return "", err
		}
		if len(conflicts) > 0 {
			return "", fmt.Errorf("%s has incompatible fields: %s", st.Index, strings.Join(conflicts, "; "))
		}
		return fmt.Sprintf("%s: %s docs, %s, %d fields",
			st.Index, humanize.Comma(st.DocCount), humanize.IBytes(uint64(st.StoreBytes)), st.FieldCount), nil
	}
}

// runChecks runs every check in order and returns how many failed.
func runChecks(ctx context.Context, w io.Writer, checks []check) int {
	fmt.Fprintf(w, "\nChecks:\n")
	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(w, "   FAIL %-20s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "   OK   %-20s %s\n", c.name, detail)
	}
	return failed
}

func printEnvironment(w io.Writer, lookup func(string) (string, bool)) {
	fmt.Fprintf(w, "Environment variables:\n")
	for _, key := range checkedVars {
		v, ok := lookup(key)
		switch {
		case !ok || v == "":
			fmt.Fprintf(w, "   %-16s not set\n", key)
		case secretVars[key]:
			fmt.Fprintf(w, "   %-16s set (%d characters)\n", key, len(v))
		default:
			fmt.Fprintf(w, "   %-16s %s\n", key, v)
		}
	}
}
