package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/bootstrap"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/seed"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("locks", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	if rt.Memory != nil {
		ds := seed.Generate(gofakeit.New(0), seed.DefaultOptions())
		if err := seed.LoadMemory(rootCtx, rt.Memory, ds); err != nil {
			logger.Fatal().Err(err).Msg("seed memory store")
		}
		logger.Info().
			Int("professionals", len(ds.Professionals)).
			Int("patients", len(ds.Patients)).
			Int("availabilities", len(ds.Availabilities)).
			Str("sample_professional_id", ds.Professionals[0].ID.String()).
			Str("sample_patient_id", ds.Patients[0].ID.String()).
			Str("sample_treatment_id", ds.Treatments[0].ID.String()).
			Msg("memory store seeded with demo data")
	}

	var deps []api.Dependency
	if rt.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Critical: true, Ping: rt.Pool.Ping})
	}
	if rt.Redis != nil {
		rdb := rt.Redis
		deps = append(deps, api.Dependency{Name: "redis", Critical: false, Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      rt.Service(),
		Dependencies: deps,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}
