package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/shelfline/shelfline/internal/adjustments"
	"github.com/shelfline/shelfline/internal/app"
	"github.com/shelfline/shelfline/internal/ledger"
	"github.com/shelfline/shelfline/internal/observability"
	"github.com/shelfline/shelfline/internal/platform/cache"
	"github.com/shelfline/shelfline/internal/platform/db"
	"github.com/shelfline/shelfline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if !cfg.LedgerCredentialsConfigured() {
		logger.Warn("remote ledger credentials not configured; sync will fail until they are set")
	}
	ledgerCfg := ledgerConfig(cfg)
	tokens := ledger.NewTokenSource(ledgerCfg, nil)
	ledgerClient := ledger.NewClient(ledgerCfg, tokens, logger)

	metrics := observability.NewMetrics()

	repo := adjustments.NewRepository(pool, logger)
	service := adjustments.NewService(repo, logger, cfg.ItemRefPrefix)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	adjustmentsHandler := adjustments.NewHandler(logger, service, jobsClient, ledgerClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AdjustmentsHandler: adjustmentsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func ledgerConfig(cfg *app.Config) ledger.Config {
	return ledger.Config{
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
}
