package pushclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRenewalInterval = 5 * time.Minute

// Subscriber starts a negotiation. *Negotiator implements it.
type Subscriber interface {
	Subscribe(ctx context.Context) (PushSubscription, error)
}

// RenewalMonitor re-negotiates a subscription in the background whenever the
// browser lost it while permission is still granted.
type RenewalMonitor struct {
	env        Environment
	subscriber Subscriber
	interval   time.Duration
	logger     *zap.Logger
}

func NewRenewalMonitor(env Environment, subscriber Subscriber, interval time.Duration, logger *zap.Logger) (*RenewalMonitor, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if interval <= 0 {
		interval = defaultRenewalInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RenewalMonitor{
		env:        env,
		subscriber: subscriber,
		interval:   interval,
		logger:     logger,
	}, nil
}

// Start runs until ctx is cancelled. Cancel it when the user session ends.
func (m *RenewalMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check reports whether a renegotiation ran and succeeded. Failures are only logged.
func (m *RenewalMonitor) check(ctx context.Context) bool {
	if !m.env.PushSupported() || m.env.Permission() != PermissionGranted {
		return false
	}

	live, err := m.hasLiveSubscription(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("renewal check could not read subscription state", zap.Error(err))
		}
		return false
	}
	if live {
		return false
	}

	m.logger.Info("push subscription missing, renegotiating")
	if _, err := m.subscriber.Subscribe(ctx); err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, ErrNegotiationInProgress):
			m.logger.Debug("renewal skipped, negotiation already running")
		default:
			m.logger.Warn("push subscription renewal failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (m *RenewalMonitor) hasLiveSubscription(ctx context.Context) (bool, error) {
	reg, err := m.env.Registration(ctx)
	if err != nil {
		return false, err
	}
	if reg == nil || reg.PushManager() == nil {
		return false, nil
	}

	sub, err := reg.PushManager().GetSubscription(ctx)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}
