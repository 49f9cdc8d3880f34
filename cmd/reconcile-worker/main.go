package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/bootstrap"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("reconcile-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Msg("reconcile worker starting up")

	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Fatal().Msg("reconcile worker needs a shared store, STORE_DRIVER=memory is not supported")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	svc := rt.Service()

	// Run once at startup
	runOnce(rootCtx, svc, cfg.WorkerInterval, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.WorkerInterval, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, budget time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	report, err := svc.ReconcileAvailabilities(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile run failed")
		return
	}

	event := logger.Info()
	if report.Failed > 0 {
		event = logger.Warn()
	}
	event.
		Int("checked", report.Checked).
		Int("released", report.Released).
		Int("reserved", report.Reserved).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
