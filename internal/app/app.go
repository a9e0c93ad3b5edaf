// Package app собирает движок из конфигурации: хранилище, Redis, шину
// событий, уведомления и сервис engagement. Общий код для cmd/api и cmd/worker.
package app

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/streak-engine/config"
	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/application/engagement"
	"github.com/alem-hub/streak-engine/internal/application/eventhandler"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/streak-engine/internal/infrastructure/notify"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/streak-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/streak-engine/internal/interface/http/handlers"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/retry"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// Timetable - источник пропущенных занятий и персон.
type Timetable interface {
	attendance.Feed
	attendance.Directory
}

// App - собранный движок и всё, что нужно закрыть при остановке.
type App struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  timeutil.Clock

	Engine    *engagement.Service
	Timetable Timetable
	Bus       shared.EventBus
	Notifier  notification.Notifier

	// JobLocker - nil без Redis: задачи защищены только внутри процесса.
	JobLocker scheduler.Locker

	// Health - проверки зависимостей для /health.
	Health *handlers.HealthChecker

	closers []func()
}

// Build подключается к зависимостям и собирает движок.
// Без DATABASE_URL хранилище живёт в памяти процесса.
// Недоступный Redis не фатален: блокировки, кэш и счётчики остаются локальными.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: log,
		Clock:  timeutil.SystemClock{},
		Health: handlers.NewHealthChecker(cfg.App.Version),
	}

	deps := command.Deps{
		Clock:    a.Clock,
		Location: cfg.App.Location,
		Logger:   log,
		Policy: streak.Policy{
			AttendancePoints: cfg.Engine.AttendancePoints,
			TaskPoints:       cfg.Engine.TaskPoints,
			RestoreBonus:     cfg.Engine.RestoreBonus,
			RestoreWindow:    cfg.Engine.RestoreWindow,
			RestoreThreshold: cfg.Engine.RestoreThreshold,
		},
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.setupStorage(ctx, &deps); err != nil {
		a.Close()
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	client := a.setupRedis(ctx, &deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.setupEventBus(ctx, client); err != nil {
		a.Close()
		return nil, err
	}
	deps.Publisher = a.Bus

	// ─────────────────────────────────────────────────────────────────────────
	// 4. УВЕДОМЛЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	a.setupNotifier(client)
	handler := eventhandler.NewNotifyHandler(a.Notifier, log, eventhandler.NotifyConfig{
		Flags:                cfg.Features,
		NotifyOnBrokenStreak: true,
		NotifyOnGrace:        true,
	})
	if err := handler.Register(a.Bus); err != nil {
		a.Close()
		return nil, fmt.Errorf("register notify handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. СЕРВИС
	// ─────────────────────────────────────────────────────────────────────────
	catalog, err := loadCatalog(cfg.Engine.CatalogFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engagement.NewService(engagement.Config{
		Deps:      deps,
		Catalog:   catalog,
		TaskTTL:   cfg.Engine.TaskTTL,
		Directory: a.Timetable,
		Flags:     cfg.Features,
	})

	log.Info("engine assembled",
		logger.Bool("postgres", cfg.Database.URL != ""),
		logger.Bool("redis", client != nil),
		logger.String("timezone", cfg.App.Location.String()),
		logger.Any("features", cfg.Features.Names()),
	)
	return a, nil
}

func (a *App) setupStorage(ctx context.Context, deps *command.Deps) error {
	cfg := a.Config
	if cfg.Database.URL == "" {
		a.Logger.Warn("DATABASE_URL is not set, using in-memory storage")
		deps.Store = memory.NewStore()
		a.Timetable = memory.NewTimetable()
		return nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	if _, err := pgCfg.PoolConfig(); err != nil {
		return err
	}

	a.Logger.Info("connecting to database...")
	conn, err := retry.DoWithData(ctx, retry.StartupRetrier(a.Logger, "postgres.connect"),
		func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnection(ctx, pgCfg)
		})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() {
		a.Logger.Info("closing database connection...")
		conn.Close()
	})

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.Logger.Info("database schema is up to date")

	deps.Store = postgres.NewStore(conn)
	a.Timetable = postgres.NewTimetable(conn)
	a.Health.AddCheck("postgres", handlers.PingCheck(conn))
	return nil
}

func (a *App) setupRedis(ctx context.Context, deps *command.Deps) *goredis.Client {
	cfg := a.Config.Redis
	if cfg.Disabled {
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout

	a.Logger.Info("connecting to Redis...", logger.String("addr", cfg.Addr))
	client, err := retry.DoWithData(ctx, retry.StartupRetrier(a.Logger, "redis.connect"),
		func(ctx context.Context) (*goredis.Client, error) {
			return redis.NewClient(ctx, rc)
		})
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, running with local locks and counters", logger.Err(err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	cache := redis.NewCache(client)
	locker := redis.NewLocker(client, redis.LockerConfig{TTL: a.Config.Engine.LockTTL})

	deps.Locker = locker
	deps.Cache = redis.NewLedgerCache(cache, a.Config.Engine.CacheTTL)
	a.JobLocker = locker
	a.Health.AddCheck("redis", handlers.PingCheck(cache))
	a.Logger.Info("Redis connection established")
	return client
}

func (a *App) setupEventBus(ctx context.Context, client *goredis.Client) error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = true
	local.Logger = a.Logger

	if client == nil {
		bus := messaging.NewInMemoryEventBus(local)
		a.Bus = bus
		a.Health.AddInfo("event_bus", func() any { return bus.Stats() })
		a.closers = append(a.closers, func() { _ = bus.Close() })
		return nil
	}

	bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
		Client: client,
		Local:  local,
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	a.Bus = bus
	a.Health.AddInfo("event_bus", func() any { return bus.Stats() })
	a.closers = append(a.closers, func() { _ = bus.Close() })
	return nil
}

func (a *App) setupNotifier(client *goredis.Client) {
	cfg := a.Config

	var next notification.Notifier = notify.NewLogNotifier(a.Logger)
	if cfg.Notifications.WebhookURL != "" {
		wc := notify.DefaultWebhookConfig(cfg.Notifications.WebhookURL)
		wc.Timeout = cfg.Notifications.WebhookTimeout
		wc.Logger = a.Logger
		next = notify.NewWebhookNotifier(wc)
	}

	gate := notify.GateConfig{
		QuietHours:    cfg.QuietHours(),
		DailyCap:      cfg.DailyCap(),
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
		Clock:         a.Clock,
		Logger:        a.Logger,
	}
	if client != nil {
		gate.Counter = redis.NewDailyCounter(client)
	}
	a.Notifier = notify.NewGate(next, gate)
}

func loadCatalog(path string) (*microtask.Catalog, error) {
	if path == "" {
		return microtask.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read micro-task catalog: %w", err)
	}
	catalog, err := microtask.LoadCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("micro-task catalog %s: %w", path, err)
	}
	return catalog, nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
