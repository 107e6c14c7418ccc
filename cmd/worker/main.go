// Package main - точка входа для фоновых процессов (Worker).
//
// Worker отвечает за периодические задачи обслуживания:
// - Очистка устаревших записей журнала синхронизации
// - Отчёт о частоте неудачных сохранений за последний интервал
//
// Worker не трогает живые сессии: он работает только с журналом в
// PostgreSQL и может перезапускаться независимо от основного сервиса.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/afritech-bridge/progress-engine/config"
	"github.com/afritech-bridge/progress-engine/internal/infrastructure/persistence/postgres"
	"github.com/afritech-bridge/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// workerConfig содержит настройки, специфичные для Worker.
type workerConfig struct {
	// SweepInterval - как часто чистить журнал.
	SweepInterval time.Duration

	// ReportInterval - как часто считать неудачные сохранения.
	ReportInterval time.Duration
}

func loadWorkerConfig() workerConfig {
	return workerConfig{
		SweepInterval:  getEnvDuration("WORKER_SWEEP_INTERVAL", 6*time.Hour),
		ReportInterval: getEnvDuration("WORKER_REPORT_INTERVAL", 15*time.Minute),
	}
}

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
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workerCfg := loadWorkerConfig()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	log.Info("starting maintenance worker",
		"env", cfg.App.Environment,
		"sweep_interval", workerCfg.SweepInterval.String(),
		"report_interval", workerCfg.ReportInterval.String(),
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
	// 4. ЗАПУСК МИГРАЦИЙ (Worker также должен иметь актуальную схему)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.RunMigrations {
		log.Info("checking database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. WORKER LOOP
	// ─────────────────────────────────────────────────────────────────────────
	journal := postgres.NewJournalRepository(dbConn)

	sweepTicker := time.NewTicker(workerCfg.SweepInterval)
	defer sweepTicker.Stop()
	reportTicker := time.NewTicker(workerCfg.ReportInterval)
	defer reportTicker.Stop()

	// Первая очистка сразу при старте
	sweepJournal(ctx, log, journal, cfg.Tracking.JournalRetention)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	log.Info("maintenance worker is running")

	for {
		select {
		case <-sweepTicker.C:
			sweepJournal(ctx, log, journal, cfg.Tracking.JournalRetention)

		case <-reportTicker.C:
			reportFailures(ctx, log, journal, workerCfg.ReportInterval)

		case sig := <-sigCh:
			log.Info("received shutdown signal", "signal", sig.String())
			log.Info("shutdown completed successfully")
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

// sweepJournal удаляет записи журнала старше срока хранения.
func sweepJournal(ctx context.Context, log *slog.Logger, journal *postgres.JournalRepository, retention time.Duration) {
	if retention <= 0 {
		return
	}

	purged, err := journal.PurgeOlderThan(ctx, retention)
	if err != nil {
		log.Error("journal sweep failed", "error", err)
		return
	}
	log.Info("journal sweep completed", "purged", purged, "retention", retention.String())
}

// reportFailures считает неудачные сохранения за последний интервал.
// Высокая частота сигнализирует о проблемах с LMS до жалоб студентов.
func reportFailures(ctx context.Context, log *slog.Logger, journal *postgres.JournalRepository, window time.Duration) {
	count, err := journal.FailureCountSince(ctx, time.Now().Add(-window))
	if err != nil {
		log.Error("failure report query failed", "error", err)
		return
	}

	if count > 0 {
		log.Warn("backend saves failed in the last window", "count", count, "window", window.String())
	} else {
		log.Debug("no failed saves in the last window", "window", window.String())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getEnvDuration возвращает time.Duration переменную окружения.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
