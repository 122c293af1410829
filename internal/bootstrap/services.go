package bootstrap

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/handler"
	infraredis "github.com/kursadbilgin/push-engine/internal/infra/redis"
	"github.com/kursadbilgin/push-engine/internal/lock"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services is the delivery core shared by the api and the worker.
type Services struct {
	Keys       *vapid.KeyPair
	Registrar  *service.Registrar
	Dispatcher *service.Dispatcher
	Inbox      *service.Inbox

	Checks []handler.HealthCheck
	redis  *goredis.Client
}

func (s *Services) Close() error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// NewServices wires the push provider, send limiter and identity locker. Without REDIS_URL the
// locker is in-process and sends are not rate limited.
func NewServices(
	ctx context.Context,
	cfg *config.Config,
	stores *Stores,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Services, error) {
	keys, err := vapid.Load(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, logger)
	if err != nil {
		return nil, err
	}

	urgency, err := domain.ParseUrgencyFromString(cfg.PushUrgency)
	if err != nil {
		return nil, err
	}
	pushProvider, err := provider.NewWebPushProvider(provider.WebPushConfig{
		PublicKey:  keys.PublicKey(),
		PrivateKey: keys.PrivateKey(),
		Subject:    keys.Subject(),
		TTL:        cfg.PushTTL(),
		Urgency:    urgency,
	})
	if err != nil {
		return nil, fmt.Errorf("push provider initialization failed: %w", err)
	}

	svc := &Services{Keys: keys, Checks: []handler.HealthCheck{stores.Health}}

	var (
		limiter service.HostLimiter
		locker  lock.Locker = lock.NewMemoryLocker()
	)
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		svc.redis = rdb
		svc.Checks = append(svc.Checks, handler.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})

		if limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.PushRateLimitPerSec); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		if locker, err = infraredis.NewRedisLocker(rdb); err != nil {
			_ = rdb.Close()
			return nil, err
		}
	} else {
		logger.Warn("REDIS_URL not set, using in-process locking without send rate limiting")
	}

	deliverer, err := service.NewDeliverer(pushProvider, limiter, logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	deliverer.SetMetrics(metrics)

	if svc.Registrar, err = service.NewRegistrar(stores.Subscriptions, stores.Pending, deliverer, locker, logger); err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Registrar.SetMetrics(metrics)

	svc.Dispatcher, err = service.NewDispatcher(
		stores.Subscriptions,
		stores.Pending,
		stores.Notifications,
		deliverer,
		cfg.DispatchConcurrency,
		logger,
	)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Dispatcher.SetMetrics(metrics)

	if svc.Inbox, err = service.NewInbox(stores.Notifications, logger); err != nil {
		_ = svc.Close()
		return nil, err
	}

	return svc, nil
}
