package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/bootstrap"
	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Service: "push-api",
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

	checks := services.Checks
	if cfg.AsyncDispatchEnabled() {
		rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close() //nolint:errcheck

		services.Dispatcher.SetPublisher(queue.NewRabbitMQPublisher(rmq))
		checks = append(checks, handler.HealthCheck{Name: "rabbitmq", Ping: rmq.Ping})
	} else {
		logger.Info("RABBITMQ_URL not set, async dispatch disabled")
	}

	tokens, err := auth.NewTokenService(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	if err != nil {
		logger.Fatal("token service initialization failed", zap.Error(err))
	}

	app, err := bootstrap.NewApp(bootstrap.AppOptions{
		Tokens:        tokens,
		Keys:          services.Keys,
		Subscriptions: services.Registrar,
		Dispatcher:    services.Dispatcher,
		Inbox:         services.Inbox,
		Checks:        checks,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("http app initialization failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("push-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("asyncDispatch", cfg.AsyncDispatchEnabled()),
	)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
}
