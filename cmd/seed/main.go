package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/seed"
)

func main() {
	opts := seed.DefaultOptions()
	flag.IntVar(&opts.Professionals, "professionals", 20, "professionals to create")
	flag.IntVar(&opts.Patients, "patients", 5000, "patients to create")
	flag.IntVar(&opts.Treatments, "treatments", opts.Treatments, "treatments to create")
	flag.IntVar(&opts.Days, "days", 21, "days of availability to open, starting today")
	fakerSeed := flag.Uint64("seed", 0, "faker seed, 0 picks a random one")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		fmt.Fprintln(os.Stderr, "seed writes to Postgres, set STORE_DRIVER=postgres")
		os.Exit(1)
	}

	logger := logging.New("seed", cfg.Env, cfg.LogLevel)
	logger.Info().
		Int("professionals", opts.Professionals).
		Int("patients", opts.Patients).
		Int("days", opts.Days).
		Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if *migrate {
		if _, err := db.NewMigrator(pool, db.Migrations(), logger).Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	ds := seed.Generate(gofakeit.New(*fakerSeed), opts)
	if err := seed.LoadPostgres(ctx, pool, ds, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}

	logger.Info().Msg("seed complete")
}
