package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/shelfline/shelfline/internal/adjustments"
	"github.com/shelfline/shelfline/internal/app"
	"github.com/shelfline/shelfline/internal/ledger"
	"github.com/shelfline/shelfline/internal/observability"
	"github.com/shelfline/shelfline/internal/platform/cache"
	"github.com/shelfline/shelfline/internal/platform/db"
	"github.com/shelfline/shelfline/internal/shared"
	"github.com/shelfline/shelfline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	_ = godotenv.Load()

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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	ledgerCfg := ledger.Config{
		AccountsBase: cfg.LedgerAccountsBase,
		APIBase:      cfg.LedgerAPIBase,
		ClientID:     cfg.LedgerClientID,
		ClientSecret: cfg.LedgerClientSecret,
		RefreshToken: cfg.LedgerRefreshToken,
		OrgID:        cfg.LedgerOrgID,
		TokenTTL:     cfg.LedgerTokenTTL,
		HTTPTimeout:  cfg.LedgerHTTPTimeout,
		MaxAttempts:  cfg.LedgerMaxAttempts,
		RetryBase:    cfg.LedgerRetryBase,
	}
	tokens := ledger.NewTokenSource(ledgerCfg, nil)
	ledgerClient := ledger.NewClient(ledgerCfg, tokens, logger)

	metrics := observability.NewMetrics()

	repo := adjustments.NewRepository(pool, logger)
	lease := shared.NewRedisLease(redisClient, shared.SyncLeaseKey, cfg.SyncLeaseTTL)
	syncer := adjustments.NewSyncer(repo, ledgerClient, lease, metrics, logger)
	syncJob := adjustments.NewSyncJob(syncer, logger)

	cronTask, err := jobs.NewScheduledSyncTask()
	if err != nil {
		logger.Error("build cron task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAdjustmentsSync, Handler: syncJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SyncCronSpec, Task: cronTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started",
		slog.String("queue", jobs.QueueDefault),
		slog.String("cron", cfg.SyncCronSpec))

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
