package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/push-engine/internal/bootstrap"
	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Service: "push-worker",
		Console: cfg.ConsoleLogs(),
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, version)
	if err != nil {
		logger.Fatal("sentry initialization failed", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}
	defer stores.Close(context.Background()) //nolint:errcheck

	metrics := observability.NewMetrics()
	services, err := bootstrap.NewServices(ctx, cfg, stores, metrics, logger)
	if err != nil {
		logger.Fatal("service initialization failed", zap.Error(err))
	}
	defer services.Close() //nolint:errcheck
	if services.Keys.Generated() {
		logger.Warn("worker generated its own VAPID keys; configure VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY to share the api identity")
	}

	sweeper, err := service.NewPendingSweeper(stores.Pending, services.Registrar, cfg.SweepInterval(), cfg.SweepBatchSize, logger)
	if err != nil {
		logger.Fatal("pending sweeper initialization failed", zap.Error(err))
	}

	checks := services.Checks
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Start(gctx) })

	if cfg.AsyncDispatchEnabled() {
		rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close() //nolint:errcheck
		checks = append(checks, handler.HealthCheck{Name: "rabbitmq", Ping: rmq.Ping})

		consumer := queue.NewRabbitMQConsumer(rmq, cfg.WorkerPrefetch, logger)
		worker, err := service.NewDispatchWorker(consumer, services.Dispatcher, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("dispatch worker initialization failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)
		g.Go(func() error { return worker.Start(gctx) })
	} else {
		logger.Info("RABBITMQ_URL not set, only the pending sweeper runs")
	}

	ops := fiber.New(fiber.Config{DisableStartupMessage: true})
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(ops, checks...)
	g.Go(func() error {
		<-gctx.Done()
		return ops.Shutdown()
	})
	go func() {
		if err := ops.Listen(fmt.Sprintf(":%d", cfg.WorkerPort)); err != nil {
			logger.Error("ops server stopped", zap.Error(err))
		}
	}()

	logger.Info("push-engine worker started",
		zap.String("store", cfg.StoreDriver),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}
	logger.Info("push-engine worker stopped")
}
