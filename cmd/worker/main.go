package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/config"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/emailqueue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/handler"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/infra/postgresql"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/infra/postgresql/migrations"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/provider"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/queue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/service"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	emailProvider, err := provider.NewHTTPEmailProvider(cfg.EmailProviderURL, cfg.EmailProviderAPIKey, cfg.EmailFrom)
	if err != nil {
		logger.Fatal("email provider initialization failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	metrics := observability.NewMetrics()
	emails := repository.NewGormEmailRepo(db)

	sendQueue := emailqueue.New(
		emailqueue.WithMinInterval(cfg.EmailMinInterval),
		emailqueue.WithTaskTimeout(cfg.EmailTaskTimeout),
		emailqueue.WithLogger(logger),
		emailqueue.WithMetrics(metrics),
	)

	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
	dispatcher, err := service.NewDispatcher(
		emails,
		consumer,
		emailProvider,
		sendQueue,
		cfg.WorkerConcurrency,
		cfg.EmailMaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(emails, queue.NewRabbitMQPublisher(broker), cfg.RetryScanInterval, 0, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}
	sweeper, err := service.NewStaleSendingSweeper(emails, 0, cfg.StaleSendingAfter, logger)
	if err != nil {
		logger.Fatal("stale sending sweeper initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "semzo-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, nil)

	logger.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("minInterval", sendQueue.MinInterval()),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	// Consumers are gone; let sends already handed to the queue finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := sendQueue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("email queue did not drain before timeout",
			zap.Int("pending", sendQueue.Len()),
			zap.Error(err),
		)
	}

	logger.Info("worker stopped")
}
