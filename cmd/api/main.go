package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faxops/blast-engine/internal/backend"
	"github.com/faxops/blast-engine/internal/config"
	"github.com/faxops/blast-engine/internal/events"
	"github.com/faxops/blast-engine/internal/handler"
	"github.com/faxops/blast-engine/internal/infra/postgresql"
	"github.com/faxops/blast-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/faxops/blast-engine/internal/infra/redis"
	"github.com/faxops/blast-engine/internal/observability"
	"github.com/faxops/blast-engine/internal/repository"
	"github.com/faxops/blast-engine/internal/service"
	"github.com/faxops/blast-engine/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var sink events.Sink = events.NopSink{}
	if cfg.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		amqpSink, err := events.NewAMQPSink(rabbit, logger)
		if err != nil {
			logger.Fatal("event sink initialization failed", zap.Error(err))
		}
		defer amqpSink.Close() //nolint:errcheck
		sink = amqpSink
	}

	faxClient, err := backend.NewRESTClient(cfg.FaxAPIURL, cfg.FaxAPIUser, cfg.FaxAPIPassword)
	if err != nil {
		logger.Fatal("fax backend client initialization failed", zap.Error(err))
	}

	batchRepo := repository.NewGormBatchRepo(db)
	submissionRepo := repository.NewGormSubmissionRepo(db)
	activityRepo := repository.NewGormActivityRepo(db)
	metricRepo := repository.NewGormMetricRepo(db)

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatcher(
		faxClient,
		batchRepo,
		submissionRepo,
		activityRepo,
		limiter,
		sink,
		service.DispatcherOptions{
			MaxConcurrent:   cfg.MaxConcurrent,
			PollInterval:    cfg.PollInterval(),
			MaxPollAttempts: cfg.MaxPollAttempts,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	aggregator, err := service.NewAggregator(dispatcher, batchRepo, submissionRepo, metricRepo, logger)
	if err != nil {
		logger.Fatal("aggregator initialization failed", zap.Error(err))
	}

	rollup, err := service.NewRollupWorker(submissionRepo, metricRepo, 0, 0, logger)
	if err != nil {
		logger.Fatal("rollup worker initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "fax-blast-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterBatchRoutes(app, dispatcher, aggregator); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("fax-blast-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		return rollup.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Warn("dispatcher stop failed", zap.Error(err))
		}
		if err := faxClient.Logout(shutdownCtx); err != nil {
			logger.Warn("backend logout failed", zap.Error(err))
		}
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}

	// Monitors for already-created jobs keep running through Stop; give them
	// a bounded window to record terminal states before the process exits.
	waitDone := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("exiting with monitors still in flight")
	}

	logger.Info("fax-blast-engine stopped")
}
