// Package main - точка входа фонового процесса graduation engine.
//
// Worker отвечает за:
// - ночной пересчёт всех юнитов (выдача накопленных степеней,
//   поиск кандидатов на смену пояса)
// - периодическую перезагрузку каталога поясов
// - доставку доменных событий в Redis pub/sub для панелей инструкторов
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teamcruz/graduation-engine/config"
	"github.com/teamcruz/graduation-engine/internal/application/command"
	"github.com/teamcruz/graduation-engine/internal/application/eventhandler"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/messaging"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/persistence/memory"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/persistence/postgres"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/persistence/redis"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/scheduler"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/scheduler/jobs"
	"github.com/teamcruz/graduation-engine/pkg/circuitbreaker"
	"github.com/teamcruz/graduation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Format:  logger.Format(cfg.Log.Format),
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	log.Info("starting graduation engine worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRESQL + МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if cfg.Database.Migrate {
		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	if health, err := dbConn.Health(ctx); err == nil && health.Healthy {
		log.Info("database ready",
			"ping_latency", health.PingLatency.String(),
			"total_conns", health.TotalConns,
			"open_cycles", health.OpenCycles,
		)
	} else if health != nil {
		log.Warn("database health check failed", "error", health.Error)
	}

	cycles := postgres.NewCycleRepository(dbConn)
	ledger := postgres.NewLedgerRepository(dbConn)
	var policies policy.Repository = postgres.NewPolicyRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.Engine.EventWorkers,
		Logger:         log,
	})
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	candidates := eventhandler.NewCandidateBoard(log)
	if err := candidates.Subscribe(bus); err != nil {
		return err
	}
	if cfg.Features.EventLog {
		if err := bus.SubscribeAll(eventhandler.NewEventLog(log).Handle); err != nil {
			return err
		}
	}

	var publisher shared.EventPublisher = bus

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально: блокировки, кеш политик, pub/sub)
	// ─────────────────────────────────────────────────────────────────────────
	var locker progression.Locker = memory.NewLocker()

	if cfg.Redis.Enabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.DialTimeout = cfg.Redis.DialTimeout

		cache, err := redis.NewCache(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer cache.Close()

		locker = redis.NewStudentLocker(cache, redis.LockConfig{
			TTL:  cfg.Redis.LockTTL,
			Wait: cfg.Redis.LockWait,
		})
		policies = redis.NewPolicyCache(policies, cache, cfg.Redis.PolicyCacheTTL, log)

		if cfg.Features.RedisEvents {
			breaker := circuitbreaker.New("redis-events",
				circuitbreaker.WithCooldown(30*time.Second),
				circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
					log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				}),
			)
			publisher = messaging.NewFanoutPublisher(log, bus, redis.NewEventPublisher(cache, 3*time.Second, breaker))
		}
		log.Info("redis connection established", "addr", redisCfg.Addr())
	} else {
		log.Warn("redis disabled: student locks are process-local")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КАТАЛОГ ПОЯСОВ И КОМАНДЫ
	// ─────────────────────────────────────────────────────────────────────────
	registry, err := belt.NewRegistry(ctx, postgres.NewCatalogRepository(dbConn))
	if err != nil {
		return fmt.Errorf("failed to load belt catalog: %w", err)
	}
	log.Info("belt catalog loaded", "belts", registry.Current().Len())

	deps := command.Deps{
		Cycles:    cycles,
		Catalog:   registry,
		Policies:  policies,
		Ledger:    ledger,
		Locker:    locker,
		Publisher: publisher,
		Logger:    log,
	}
	recalculate := command.NewRecalculateUnitHandler(deps, command.RecalculateUnitConfig{
		Concurrency:      cfg.Engine.RecalcConcurrency,
		ConflictAttempts: cfg.Engine.ConflictAttempts,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	sweepSchedule, err := scheduler.ParseCron(cfg.Scheduler.SweepCron, cfg.App.Location())
	if err != nil {
		return fmt.Errorf("SCHEDULER_SWEEP_CRON: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   cfg.App.Location(),
		RunTimeout: cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(jobs.NewProgressionSweepJob(policies, recalculate, log), sweepSchedule); err != nil {
		return err
	}
	if err := sched.Register(jobs.NewCatalogRefreshJob(registry, log), scheduler.Every(cfg.Scheduler.CatalogRefresh)); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", "timeout", cfg.App.ShutdownTimeout.String())

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("scheduler stop failed", "error", err)
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Error("shutdown timed out, exiting with jobs still running")
	}

	for name, m := range sched.Metrics().Snapshot() {
		log.Info("job stats", "job", name, "executions", m.Executions, "failures", m.Failures, "skips", m.Skips)
	}
	bm := bus.Metrics().Snapshot()
	log.Info("shutdown completed",
		"belt_change_candidates", candidates.Len(),
		"handler_failures", bm.HandlerFailures,
	)
	return nil
}
