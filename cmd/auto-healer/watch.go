package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/opscart/k8s-auto-healer/pkg/reporter"
	"github.com/opscart/k8s-auto-healer/pkg/runner"
	"github.com/opscart/k8s-auto-healer/pkg/scheduler"
	"github.com/spf13/cobra"
)

func runWatch(cmd *cobra.Command, args []string) {
	var err error
	cfg, err = buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Init(logConfig(cfg))
	logger := log.WithComponent("watch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := cluster.New(cfg.APITimeout)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build cluster client")
		os.Exit(2)
	}
	if err := resolveScope(ctx, client); err != nil {
		logger.Error().Err(err).Msg("failed to resolve namespace scope")
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	if err := initStorage(); err != nil {
		logger.Error().Err(err).Msg("failed to initialize storage")
		os.Exit(1)
	}

	rep := reporter.New(cfg.PushgatewayURL)
	run := runner.New(client, cfg, rep, store)

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rep.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsListen).Msg("serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().
		Dur("interval", cfg.CheckInterval).
		Strs("namespaces", cfg.Namespaces).
		Bool("dry_run", cfg.DryRun).
		Msg("starting watch loop")

	// A fatal cycle in watch mode is logged and retried on the next tick:
	// the scope may become readable again without a restart.
	sched := scheduler.New(cfg.CheckInterval, func(ctx context.Context) {
		result := run.Run(ctx)
		if result.Summary.Status == models.StatusFatal {
			logger.Error().Msg("cycle fatal, scope unreadable; retrying next interval")
		}
	})
	if err := sched.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start scheduler")
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sched.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if store != nil {
		store.Close()
	}
}
