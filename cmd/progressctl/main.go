// Package main is the operator CLI of the progression engine.
//
// progressctl wires the engine the way a service would (storage, Redis
// leaderboard cache, event bus) and exposes each engine operation as a
// subcommand that prints JSON. It is also how the schema is migrated and
// the achievement catalog is seeded.
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/codequest/progression/config"
	"github.com/codequest/progression/internal/application"
	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/internal/infrastructure/catalog"
	"github.com/codequest/progression/internal/infrastructure/messaging"
	"github.com/codequest/progression/internal/infrastructure/persistence/memory"
	"github.com/codequest/progression/internal/infrastructure/persistence/postgres"
	"github.com/codequest/progression/internal/infrastructure/persistence/redis"
	"github.com/codequest/progression/pkg/circuitbreaker"
	"github.com/codequest/progression/pkg/logger"
	"github.com/codequest/progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "progressctl: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and wires the engine for one subcommand.
func setup(ctx context.Context, out io.Writer) (*app, error) {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.Format(cfg.Observability.LogFormat),
		Attrs: []slog.Attr{
			slog.String("app", cfg.App.Name),
			slog.String("env", string(cfg.App.Environment)),
		},
	})
	log.Debug("starting", "driver", string(cfg.Storage.Driver), "timezone", cfg.App.Timezone)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. WIRING
	// ─────────────────────────────────────────────────────────────────────────
	return newApp(ctx, cfg, log, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app holds everything a subcommand may need.
type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer

	engine   *application.Engine
	registry *achievement.Registry

	// catalogWriter receives seeded entries.
	catalogWriter achievement.CatalogWriter

	// migrator is nil for the memory driver.
	migrator *postgres.Migrator

	// lbCache is nil when Redis is disabled or unreachable.
	lbCache *redis.LeaderboardCache

	bus     *messaging.EventBus
	closers []func()
}

// leaderboardBacking is what both storage drivers give the leaderboard.
type leaderboardBacking interface {
	leaderboard.Reader
	leaderboard.Source
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, out io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		out:      out,
		registry: achievement.DefaultRegistry(),
	}
	defer func() {
		if a.engine == nil {
			a.close()
		}
	}()

	retrier := retry.ConnectRetrier(cfg.App.ConnectAttempts, func(attempt int, err error, delay time.Duration) {
		log.Warn("connection attempt failed", "attempt", attempt, "retry_in", delay, logger.Err(err))
	})

	// Connections. Postgres and Redis are dialled concurrently; a Redis
	// failure only disables the cache.
	var (
		conn     *postgres.Connection
		cache    *redis.Cache
		redisErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Storage.Driver == config.DriverPostgres {
		g.Go(func() error {
			err := retrier.Do(gctx, func(ctx context.Context) error {
				var err error
				conn, err = postgres.NewConnection(ctx, postgres.Config{
					URL:             cfg.Database.URL,
					MaxConns:        int32(cfg.Database.MaxConns),
					MinConns:        int32(cfg.Database.MinConns),
					MaxConnLifetime: cfg.Database.ConnMaxLifetime,
					MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			return nil
		})
	}
	if cfg.UsesRedis() {
		g.Go(func() error {
			redisErr = retrier.Do(gctx, func(ctx context.Context) error {
				var err error
				cache, err = redis.NewCache(ctx, redis.Config{
					Host:         cfg.Redis.Host,
					Port:         cfg.Redis.Port,
					Password:     cfg.Redis.Password,
					DB:           cfg.Redis.DB,
					PoolSize:     cfg.Redis.PoolSize,
					MinIdleConns: cfg.Redis.MinIdleConns,
					DialTimeout:  cfg.Redis.DialTimeout,
					ReadTimeout:  cfg.Redis.ReadTimeout,
					WriteTimeout: cfg.Redis.WriteTimeout,
				})
				return err
			})
			return nil
		})
	}
	err := g.Wait()
	if conn != nil {
		a.closers = append(a.closers, conn.Close)
	}
	if cache != nil {
		a.closers = append(a.closers, func() { _ = cache.Close() })
	}
	if err != nil {
		return nil, err
	}

	// Storage
	var (
		storage application.Storage
		backing leaderboardBacking
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		entries, err := loadCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		// A memory store starts empty on every run.
		if _, err := catalog.Seed(ctx, store, entries, nil); err != nil {
			return nil, fmt.Errorf("failed to seed memory catalog: %w", err)
		}
		storage = application.Storage{
			Stats:       store,
			Catalog:     store,
			Unlocks:     store,
			Facts:       store,
			Leaderboard: store,
			Heatmap:     store,
			Ledger:      store,
		}
		backing = store
		a.catalogWriter = store
		log.Warn("using the in-memory store, nothing outlives this process")

	case config.DriverPostgres:
		log.Debug("database connection established")

		achievements := postgres.NewAchievementRepository(conn)
		activity := postgres.NewActivityRepository(conn)
		board := postgres.NewLeaderboardRepository(conn)
		storage = application.Storage{
			Stats:       postgres.NewStatsRepository(conn),
			Catalog:     achievements,
			Unlocks:     achievements,
			Facts:       postgres.NewFactsRepository(conn),
			Leaderboard: board,
			Heatmap:     activity,
			Ledger:      activity,
		}
		backing = board
		a.catalogWriter = achievements
		a.migrator = postgres.NewMigrator(conn)

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Catalog.CacheSize > 0 {
		cached, err := catalog.NewCachedCatalog(storage.Catalog, cfg.Catalog.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog cache: %w", err)
		}
		storage.Catalog = cached
	}

	// Leaderboard cache (optional)
	var sink leaderboard.Sink
	switch {
	case redisErr != nil:
		log.Warn("failed to connect to Redis, leaderboard cache disabled", logger.Err(redisErr))
		cache = nil
	case cache != nil:
		breaker := circuitbreaker.CacheBreaker("leaderboard_cache", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
		a.lbCache = redis.NewLeaderboardCache(cache, backing, cfg.Leaderboard.CacheTTL, log).WithBreaker(breaker)
		storage.Leaderboard = a.lbCache
		sink = a.lbCache
		log.Debug("redis connection established", "addr", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	}

	// Events
	a.bus = messaging.NewEventBus(messaging.EventBusConfig{Logger: log})
	a.bus.Use(messaging.RecoveryMiddleware(log))
	if err := a.bus.SubscribeAll(messaging.LogHandler(log)); err != nil {
		return nil, err
	}
	if cfg.Redis.ForwardEvents && cache != nil {
		forward := messaging.ForwardHandler(cache, func(t shared.EventType) string {
			return redis.PubSubChannel(string(t))
		}, cfg.Redis.WriteTimeout)
		if err := a.bus.SubscribeAll(forward); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, func() { _ = a.bus.Close() })

	engine, err := application.NewEngine(storage, application.Options{
		Registry: a.registry,
		Sink:     sink,
		Events:   a.bus,
		Location: cfg.App.Location,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine

	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadCatalog(path string) ([]achievement.Achievement, error) {
	if path == "" {
		return catalog.Default()
	}
	entries, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return entries, nil
}
