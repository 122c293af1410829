package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender delivers one payload to one subscription.
type Sender interface {
	Deliver(ctx context.Context, sub domain.Subscription, payload domain.Payload) error
}

// PushSender posts an encrypted payload to a subscription endpoint.
type PushSender interface {
	Send(ctx context.Context, sub domain.Subscription, payload []byte) (*provider.Receipt, error)
}

// HostLimiter throttles sends per push service host.
type HostLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Deliverer encodes payloads and sends them through the push provider, throttled per push service host.
type Deliverer struct {
	provider    PushSender
	rateLimiter HostLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewDeliverer builds a Deliverer. rateLimiter may be nil to disable throttling.
func NewDeliverer(pushProvider PushSender, rateLimiter HostLimiter, logger *zap.Logger) (*Deliverer, error) {
	if pushProvider == nil {
		return nil, fmt.Errorf("push provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Deliverer{
		provider:    pushProvider,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Deliverer) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Deliver returns nil on acceptance. Failures keep the provider classification,
// so callers can test them with provider.IsGone.
func (d *Deliverer) Deliver(ctx context.Context, sub domain.Subscription, payload domain.Payload) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	host := PushServiceHost(sub.Endpoint)
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, host); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	start := d.now()
	resp, sendErr := d.provider.Send(ctx, sub, body)
	elapsed := d.now().Sub(start)

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("userId", sub.UserID),
		zap.String("pushService", host),
	)

	switch {
	case sendErr == nil:
		d.metrics.ObserveDelivery(host, observability.OutcomeSent, elapsed)
		fields := []zap.Field{zap.Duration("elapsed", elapsed)}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode), zap.String("messageId", resp.MessageID))
		}
		logger.Debug("push delivered", fields...)
		return nil
	case provider.IsGone(sendErr):
		d.metrics.ObserveDelivery(host, observability.OutcomeGone, elapsed)
		logger.Info("push endpoint gone", zap.Error(sendErr))
	default:
		d.metrics.ObserveDelivery(host, observability.OutcomeFailed, elapsed)
		logger.Warn("push delivery failed",
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
	}

	return sendErr
}

// PushServiceHost returns the lower-cased host of a push endpoint, the key deliveries are throttled on.
func PushServiceHost(endpoint string) string {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Hostname())
}
