package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/lock"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// Runtime holds the backing services a binary runs against.
type Runtime struct {
	Repo   appointment.Repository
	Memory *appointment.MemoryRepository // set for the memory driver
	Pool   *pgxpool.Pool                 // set for the postgres driver
	Redis  *redis.Client                 // set for the redis lock backend
	Locker lock.Locker

	slotCache appointment.SlotCache
	logger    zerolog.Logger
}

// Open connects the store and lock backend selected by cfg.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		rt.Pool = pool
		logger.Info().Msg("connected to Postgres")

		if cfg.MigrateOnStart {
			applied, err := db.NewMigrator(pool, db.Migrations(), logger).Up(ctx)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Int("applied", applied).Msg("migrations up to date")
		}
		rt.Repo = appointment.NewPgRepository(pool)
	case config.StoreDriverMemory:
		rt.Memory = appointment.NewMemoryRepository()
		rt.Repo = rt.Memory
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		rt.Redis = rdb
		rt.Locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		if cfg.SlotCacheTTL > 0 {
			rt.slotCache = redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		rt.Locker = lock.NewLocalLocker(cfg.LockWait)
		logger.Warn().Msg("using in-process booking locks, run a single instance only")
	}

	return rt, nil
}

// Service builds the booking service over the runtime's backends.
func (rt *Runtime) Service(opts ...appointment.Option) *appointment.Service {
	if rt.slotCache != nil {
		opts = append([]appointment.Option{appointment.WithSlotCache(rt.slotCache)}, opts...)
	}
	return appointment.NewService(rt.Repo, rt.Locker, rt.logger, opts...)
}

// Ping checks every connected backend.
func (rt *Runtime) Ping(ctx context.Context) error {
	var errs []error
	if rt.Pool != nil {
		if err := rt.Pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Error().Err(err).Msg("error closing redis")
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
