package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/millbrook-erp/millbrook-erp/internal/app"
	"github.com/millbrook-erp/millbrook-erp/internal/autojournal"
	"github.com/millbrook-erp/millbrook-erp/internal/journal"
	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
	"github.com/millbrook-erp/millbrook-erp/internal/mappings"
	"github.com/millbrook-erp/millbrook-erp/internal/observability"
	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/platform/cache"
	"github.com/millbrook-erp/millbrook-erp/internal/platform/db"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
	"github.com/millbrook-erp/millbrook-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo)
	periodsHandler := periods.NewHandler(logger, periodsService)

	mappingsRepo := mappings.NewRepository(pool)
	mappingsService := mappings.NewService(mappingsRepo)
	mappingsHandler := mappings.NewHandler(logger, mappingsService)

	journalRepo := journal.NewRepository(pool)
	journalService := journal.NewService(journalRepo, logger, metrics)
	journalHandler := journal.NewHandler(logger, journalService)

	generator := autojournal.NewGenerator(journalService, mappingsService, auditLogger, logger, metrics)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, logger, metrics, generator)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledgerHandler,
		PeriodsHandler:  periodsHandler,
		JournalHandler:  journalHandler,
		MappingsHandler: mappingsHandler,
		JobHandler:      jobHandler,
		Pool:            pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("millbrook listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
