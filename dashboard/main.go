package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/DeafMist/opportunity-indexer/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cmd := &cli.Command{
		Name:  "dashboard",
		Usage: "Serve a read-only JSON API over the opportunity index",
		Flags: append(app.CommonFlags(),
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Sources: cli.EnvVars("DASHBOARD_ADDR"),
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
	env, err := app.Setup(cmd, "dashboard", nil)
	if err != nil {
		return err
	}
	defer env.Close()
	log := env.Log
	cfg := env.Config

	if addr := cmd.String("addr"); addr != "" {
		cfg.Dashboard.BindAddr = addr
	}

	es, err := env.Elasticsearch()
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		return err
	}

	srv := &server{log: log, cfg: cfg.Dashboard, es: es}
	httpServer := &http.Server{
		Addr:              cfg.Dashboard.BindAddr,
		Handler:           newRouter(srv, os.Stdout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("dashboard starting", slog.String("addr", cfg.Dashboard.BindAddr), slog.String("index", es.Index()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			log.Error("server stopped", slog.Any("err", err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
		return err
	}
	return nil
}
