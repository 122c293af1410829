package bootstrap

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type AppOptions struct {
	Tokens        *auth.TokenService
	Keys          handler.PublicKeySource
	Subscriptions handler.SubscriptionService
	Dispatcher    handler.DispatchService
	Inbox         handler.InboxService
	Checks        []handler.HealthCheck
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// NewApp builds the HTTP surface: push lifecycle, admin dispatch, inbox, health and metrics.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "push-engine",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          transport.ErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(observability.CorrelationMiddleware())
	if opts.Metrics != nil {
		app.Use(opts.Metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	handler.RegisterHealthRoutes(app, opts.Checks...)

	api := app.Group("/api")
	if err := handler.RegisterPushRoutes(api, opts.Tokens, opts.Keys, opts.Subscriptions); err != nil {
		return nil, err
	}
	if err := handler.RegisterAdminRoutes(api, opts.Tokens, opts.Dispatcher); err != nil {
		return nil, err
	}
	if err := handler.RegisterInboxRoutes(api, opts.Tokens, opts.Inbox); err != nil {
		return nil, err
	}

	return app, nil
}
