package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/config"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/handler"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/infra/postgresql"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/infra/postgresql/migrations"
	infraredis "github.com/ergomarketing/Semzo-Prive--sub004/internal/infra/redis"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/queue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/service"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
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

	metrics := observability.NewMetrics()

	policies, err := ratelimit.NewRegistry(cfg.RateLimitPolicies()...)
	if err != nil {
		logger.Fatal("rate limit policies invalid", zap.Error(err))
	}

	limiter, rdb, err := newLimiter(ctx, cfg, policies)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	emailService, err := service.NewEmailService(repository.NewGormEmailRepo(db), publisher, logger)
	if err != nil {
		logger.Fatal("email service initialization failed", zap.Error(err))
	}

	rateLimitHandler, err := handler.NewRateLimitHandler(policies, limiter, metrics, logger)
	if err != nil {
		logger.Fatal("rate limit handler initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "semzo-api",
		ErrorHandler: transport.ErrorHandler(logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		// Client IPs feed the email rate limit; behind a load balancer they
		// must come from its forwarding header.
		ProxyHeader: cfg.ProxyHeader,
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterRateLimitRoutes(app, rateLimitHandler)

	emailPolicy, _ := policies.Get(ratelimit.PolicyTransactionalEmail)
	emailGuard := handler.RateLimit(emailPolicy, limiter, handler.ClientIP, metrics, logger)
	if err := handler.RegisterEmailRoutes(app, emailService, emailGuard); err != nil {
		logger.Fatal("email routes registration failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			zap.Int("port", cfg.APIPort),
			zap.String("rateLimitBackend", cfg.RateLimitBackend),
		)
		serveErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api stopped")
}

// newLimiter builds the configured backend. The returned redis client is nil
// for the memory backend.
func newLimiter(ctx context.Context, cfg *config.Config, policies *ratelimit.Registry) (ratelimit.Limiter, *redis.Client, error) {
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		limiter, err := infraredis.NewSlidingWindowLimiter(rdb)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return limiter, rdb, nil
	}

	limiter := ratelimit.NewMemoryLimiter()
	limiter.StartJanitor(ctx, cfg.RateLimitJanitorInterval, policies.MaxWindow())
	return limiter, nil, nil
}
