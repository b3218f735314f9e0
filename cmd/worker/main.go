package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-erp/meridian-erp/internal/adjustments"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/approvals"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.Default(prometheus.DefaultRegisterer)

	auditLogger := shared.NewAuditLogger(pool)

	stockRepo := stock.NewRepository(pool)
	snapshotCache := stock.NewSnapshotCache(redisClient, cfg.CacheTTL)
	stockService := stock.NewService(stockRepo, auditLogger, snapshotCache, nil, logger)

	approvalRecorder := approvals.NewRecorder(pool)
	approvalGate := approvals.NewThresholdGate(cfg.ApprovalAutoLimit, approvalRecorder, logger)

	adjustmentsRepo := adjustments.NewRepository(pool)
	adjustmentsService := adjustments.NewService(adjustmentsRepo, stockService, approvalGate, approvalRecorder, auditLogger, nil, logger)

	decisionJob := jobs.NewApprovalDecisionJob(adjustmentsService, metrics, logger)
	expiryJob := jobs.NewBatchExpiryScanJob(pool, metrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskApprovalDecision, Handler: decisionJob.Handle},
			{Type: jobs.TaskBatchExpiryScan, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpiryScanSpec, Task: jobs.NewBatchExpiryScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
