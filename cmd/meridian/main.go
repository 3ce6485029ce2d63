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

	clientRepo := clients.NewRepository(pool)
	clientService := clients.NewService(clientRepo)
	clientHandler := clients.NewHandler(logger, clientService)

	productRepo := products.NewRepository(pool)
	productService := products.NewService(productRepo)
	productHandler := products.NewHandler(logger, productService)

	orderRepo := orders.NewRepository(pool)
	orderService := orders.NewService(orderRepo, clientService, productService)
	orderHandler := orders.NewHandler(logger, orderService)

	invoiceRepo := invoices.NewRepository(pool)
	invoiceService := invoices.NewService(invoiceRepo, orderService, invoices.Config{
		OverpaymentCreditsClient: cfg.OverpaymentCreditsClient,
	})
	invoiceHandler := invoices.NewHandler(logger, invoiceService)

	reportingRepo := reporting.NewRepository(pool)
	reportingCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	reportingService := reporting.NewService(reportingRepo, reportingCache)
	reportingHandler := reporting.NewHandler(logger, reportingService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ClientsHandler:   clientHandler,
		ProductsHandler:  productHandler,
		OrdersHandler:    orderHandler,
		InvoicesHandler:  invoiceHandler,
		ReportingHandler: reportingHandler,
		ReportingService: reportingService,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
