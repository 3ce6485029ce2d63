package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-billing/meridian-billing/internal/app"
	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/invoices"
	"github.com/meridian-billing/meridian-billing/internal/observability"
	"github.com/meridian-billing/meridian-billing/internal/orders"
	"github.com/meridian-billing/meridian-billing/internal/platform/cache"
	"github.com/meridian-billing/meridian-billing/internal/platform/db"
	"github.com/meridian-billing/meridian-billing/internal/products"
	"github.com/meridian-billing/meridian-billing/internal/reporting"
	"github.com/meridian-billing/meridian-billing/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, dashboard cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	clientService := clients.NewService(clients.NewRepository(pool))
	productService := products.NewService(products.NewRepository(pool))
	orderService := orders.NewService(orders.NewRepository(pool), clientService, productService)
	invoiceService := invoices.NewService(invoices.NewRepository(pool), orderService, invoices.Config{
		OverpaymentCreditsClient: cfg.OverpaymentCreditsClient,
	})

	reportingCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	reportingService := reporting.NewService(reporting.NewRepository(pool), reportingCache)

	metrics := observability.NewMetrics()
	overdueJob := jobs.NewOverdueScanJob(invoiceService, logger, nil, metrics)
	warmupJob := jobs.NewReportingWarmupJob(reportingService, logger, nil)

	// Zero as_of makes each scheduled run evaluate at its own execution time.
	overdueTask, err := jobs.NewOverdueScanTask(time.Time{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportingWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvoicesMarkOverdue, Handler: overdueJob.Handle},
			{Type: jobs.TaskReportingWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
