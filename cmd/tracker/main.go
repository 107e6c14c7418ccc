// Package main - точка входа для сервиса отслеживания прогресса уроков.
//
// Сервис ведёт живые сессии просмотра уроков: оценивает прогресс чтения по
// телеметрии, автоматически сохраняет его в LMS и проводит завершение урока
// через backend of record. PostgreSQL хранит журнал синхронизации и
// подтверждённые завершения, Redis кеширует последние снимки прогресса.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая логика оценки прогресса и завершения
// - Application: оркестрация сессий и обработчики событий
// - Infrastructure: LMS клиент, PostgreSQL, Redis, таймеры
// - Interface: HTTP API для клиентских представлений уроков
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/afritech-bridge/progress-engine/config"
	"github.com/afritech-bridge/progress-engine/internal/application/eventhandler"
	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/external/lms"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/messaging"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/persistence/postgres"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/persistence/redis"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/scheduler"
	httpserver "github.com/afritech-bridge/progress-engine/internal/interface/http"
	"github.com/afritech-bridge/progress-engine/internal/metrics"
	"github.com/afritech-bridge/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	// .env присутствует только в development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	logLevel := cfg.Observability.LogLevel
	if cfg.App.Debug {
		logLevel = "debug"
	}
	log := logger.New(logger.Options{
		Level:  logLevel,
		Format: cfg.Observability.LogFormat,
	})
	log.Info("starting progress tracking service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.RunMigrations {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var progressCache tracking.ProgressCache

	if cfg.Redis.Enabled && cfg.Features.IsEnabled(config.FeatureSnapshotCache, nil) {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize

		redisClient, err := redis.NewClient(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, snapshot cache disabled", "error", err)
		} else {
			defer func() {
				log.Info("closing Redis connection...")
				_ = redisClient.Close()
			}()
			progressCache = redis.NewProgressCache(redisClient)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")

	var journal tracking.ProgressJournal
	journalRepo := postgres.NewJournalRepository(dbConn)
	if cfg.Features.IsEnabled(config.FeatureSyncJournal, nil) {
		journal = journalRepo
	}
	outcomeRepo := postgres.NewOutcomeRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBus := messaging.New(messaging.Config{
		WorkerPoolSize: cfg.Tracking.EventWorkers,
		Logger:         log,
	})
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing LMS client...", "base_url", cfg.LMS.BaseURL)

	lmsConfig := lms.DefaultConfig(cfg.LMS.BaseURL)
	lmsConfig.APIToken = cfg.LMS.APIToken
	lmsConfig.Timeout = cfg.LMS.Timeout
	lmsConfig.RequestsPerSecond = cfg.LMS.RequestsPerSecond
	lmsConfig.Burst = cfg.LMS.Burst
	lmsConfig.Logger = log
	lmsClient := lms.NewClient(lmsConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	if cfg.Features.IsEnabled(config.FeatureCompletionOutcomes, nil) {
		completedHandler := eventhandler.NewOnLessonCompletedHandler(outcomeRepo, log)
		if err := eventBus.Subscribe(shared.EventLessonCompleted, completedHandler.Handle); err != nil {
			return fmt.Errorf("failed to subscribe completion handler: %w", err)
		}
	}

	if cfg.Features.IsEnabled(config.FeatureSaveFailureAlerts, nil) {
		saveFailedCfg := eventhandler.DefaultSaveFailedConfig()
		saveFailedCfg.EscalateAfter = cfg.Tracking.SaveFailureEscalateAfter
		saveFailedHandler := eventhandler.NewOnSaveFailedHandler(log, saveFailedCfg)
		for _, eventType := range []shared.EventType{
			shared.EventProgressSaveFailed,
			shared.EventProgressSaved,
			shared.EventSessionClosed,
		} {
			if err := eventBus.Subscribe(eventType, saveFailedHandler.Handle); err != nil {
				return fmt.Errorf("failed to subscribe save-failure handler: %w", err)
			}
		}
	}

	if cfg.Observability.MetricsEnabled {
		collector := metrics.NewCollector(log)
		if err := collector.Register(eventBus); err != nil {
			return fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ИНИЦИАЛИЗАЦИЯ TRACKING ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing tracking engine...",
		"tick_interval", cfg.Tracking.TickInterval.String(),
		"save_interval", cfg.Tracking.SaveInterval.String(),
		"default_threshold", cfg.Tracking.DefaultThreshold,
	)

	timerCfg := scheduler.DefaultConfig()
	timerCfg.TickInterval = cfg.Tracking.TickInterval
	timerCfg.SaveInterval = cfg.Tracking.SaveInterval
	timerCfg.Logger = log
	timers := scheduler.NewFactory(timerCfg)
	defer timers.StopAll()

	sessions := tracking.NewSessionManager(tracking.SessionManagerDeps{
		Backend:          lmsClient,
		Cache:            progressCache,
		Journal:          journal,
		Publisher:        eventBus,
		Timers:           timers,
		Logger:           log,
		DefaultThreshold: lesson.Threshold(cfg.Tracking.DefaultThreshold),
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ОЧИСТКА ЖУРНАЛА
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Tracking.JournalRetention > 0 {
		purged, err := journalRepo.PurgeOlderThan(ctx, cfg.Tracking.JournalRetention)
		if err != nil {
			log.Warn("journal purge failed", "error", err)
		} else if purged > 0 {
			log.Info("purged old journal entries", "count", purged)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	httpConfig.RateLimitPerSecond = cfg.HTTP.RateLimitPerSecond
	httpConfig.RateLimitBurst = cfg.HTTP.RateLimitBurst
	httpConfig.APIKeyHashes = cfg.HTTP.APIKeyHashes

	httpDeps := httpserver.Dependencies{
		Sessions: sessions,
		Health: &healthChecker{
			lms:   lmsClient,
			db:    dbConn,
			cache: progressCache,
		},
		Logger: log,
	}
	if cfg.Features.IsEnabled(config.FeatureStudentHistory, nil) {
		httpDeps.Journal = journalRepo
		httpDeps.Outcomes = outcomeRepo
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)

	go func() {
		log.Info("starting HTTP server", "address", httpConfig.Address())
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progress tracking service is running",
		"http_address", httpConfig.Address(),
		"lms", cfg.LMS.BaseURL,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. Останавливаем HTTP сервер (перестаём принимать новые запросы)
	log.Info("stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}

	// 2. Закрываем живые сессии с финальным сохранением прогресса
	log.Info("closing active sessions...", "count", sessions.ActiveSessions())
	sessions.CloseAll(shutdownCtx)

	// 3. Таймеры, event bus и соединения закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// healthChecker aggregates component health for the /health endpoint.
type healthChecker struct {
	lms   *lms.Client
	db    *postgres.Connection
	cache tracking.ProgressCache
}

// Check implements httpserver.HealthChecker.
func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy:    true,
		Ready:      true,
		Components: make(map[string]string),
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Ready = false
		status.Components["database"] = err.Error()
	} else {
		status.Components["database"] = "ok"
	}

	// Недоступность LMS деградирует сервис, но не убивает его: сессии
	// продолжают копить прогресс и повторять сохранения.
	if h.lms.Healthy(ctx) {
		status.Components["lms"] = "ok"
	} else {
		status.Healthy = false
		status.Components["lms"] = "unreachable (breaker: " + h.lms.BreakerState().String() + ")"
	}

	if h.cache != nil {
		status.Components["cache"] = "ok"
	} else {
		status.Components["cache"] = "disabled"
	}

	if !status.Healthy {
		status.Message = "one or more components degraded"
	}

	return status
}
