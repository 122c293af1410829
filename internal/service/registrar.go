package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/lock"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultIdentityLockTTL = 30 * time.Second

// RegisterResult reports what happened to the caller's pending backlog.
type RegisterResult struct {
	Subscription domain.Subscription
	Drained      int
	Remaining    int
	// Gone is set when the push service rejected the new endpoint during the drain
	// and the subscription was removed again.
	Gone bool
}

// Registrar stores the live subscription of a user identity and drains payloads parked for it.
type Registrar struct {
	subscriptions repository.SubscriptionRepository
	pending       repository.PendingRepository
	sender        Sender
	locker        lock.Locker
	lockTTL       time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// NewRegistrar builds a Registrar. locker may be nil, the atomic upsert alone then orders writers.
func NewRegistrar(
	subscriptions repository.SubscriptionRepository,
	pending repository.PendingRepository,
	sender Sender,
	locker lock.Locker,
	logger *zap.Logger,
) (*Registrar, error) {
	if subscriptions == nil || pending == nil {
		return nil, fmt.Errorf("subscription and pending repositories are required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registrar{
		subscriptions: subscriptions,
		pending:       pending,
		sender:        sender,
		locker:        locker,
		lockTTL:       defaultIdentityLockTTL,
		logger:        logger,
	}, nil
}

func (r *Registrar) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Register validates sub, replaces the identity's record and drains its pending payloads.
// Drain failures are logged and never fail the registration.
func (r *Registrar) Register(ctx context.Context, sub domain.Subscription) (*RegisterResult, error) {
	sub.Normalize()
	if sub.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(r.logger, ctx).With(zap.String("userId", sub.UserID))

	release := r.lockIdentity(ctx, logger, sub.UserID)
	defer release()

	if err := r.subscriptions.Upsert(ctx, &sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	r.metrics.IncSubscriptionRegistered()
	logger.Info("push subscription saved", zap.String("pushService", PushServiceHost(sub.Endpoint)))

	result := &RegisterResult{Subscription: sub}
	if err := r.drain(ctx, logger, sub, result); err != nil {
		logger.Error("failed to drain pending notifications", zap.Error(err))
	}

	return result, nil
}

// Drain retries the pending payloads of userID against its live subscription.
// Identities without a subscription are left untouched.
func (r *Registrar) Drain(ctx context.Context, userID string) (*RegisterResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(r.logger, ctx).With(zap.String("userId", userID))

	release := r.lockIdentity(ctx, logger, userID)
	defer release()

	sub, err := r.subscriptions.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &RegisterResult{}, nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	result := &RegisterResult{Subscription: *sub}
	if err := r.drain(ctx, logger, *sub, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Registrar) drain(ctx context.Context, logger *zap.Logger, sub domain.Subscription, result *RegisterResult) error {
	pending, err := r.pending.ListByUser(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("failed to list pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	logger.Debug("draining pending notifications", zap.Int("count", len(pending)))

	for i, p := range pending {
		sendErr := r.sender.Deliver(ctx, sub, p.Payload)
		if sendErr == nil {
			result.Drained++
			r.metrics.IncPendingDrained()
			if err := r.pending.Delete(ctx, p.ID); err != nil {
				logger.Warn("delivered pending notification could not be removed",
					zap.String("pendingId", p.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if provider.IsGone(sendErr) {
			result.Gone = true
			result.Remaining += len(pending) - i
			// Only this endpoint: a newer registration for the same identity must survive.
			removed, err := r.subscriptions.DeleteByEndpoint(ctx, sub.UserID, sub.Endpoint)
			if err != nil {
				return fmt.Errorf("failed to remove gone subscription: %w", err)
			}
			r.metrics.AddSubscriptionsRemoved("gone", removed)
			return nil
		}

		result.Remaining++
		logger.Warn("pending notification kept for a later drain",
			zap.String("pendingId", p.ID),
			zap.Error(sendErr),
		)
	}

	return nil
}

// Unregister deletes the record of userID matching endpoint. With fallbackAll set and no
// match, every record of userID is deleted instead.
func (r *Registrar) Unregister(ctx context.Context, userID, endpoint string, fallbackAll bool) (int64, error) {
	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" {
		return 0, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if endpoint == "" {
		return 0, fmt.Errorf("%w: endpoint is required", domain.ErrValidation)
	}

	removed, err := r.subscriptions.DeleteByEndpoint(ctx, userID, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscription: %w", err)
	}
	if removed == 0 && fallbackAll {
		removed, err = r.subscriptions.DeleteByUser(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
		}
	}

	r.metrics.AddSubscriptionsRemoved("unsubscribe", removed)
	observability.WithContextLogger(r.logger, ctx).Info("push subscription removed",
		zap.String("userId", userID),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// Current returns the live subscription of userID.
func (r *Registrar) Current(ctx context.Context, userID string) (*domain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	return r.subscriptions.GetByUser(ctx, userID)
}

func (r *Registrar) lockIdentity(ctx context.Context, logger *zap.Logger, userID string) func() {
	if r.locker == nil {
		return func() {}
	}

	release, err := r.locker.Acquire(ctx, lock.IdentityKey(userID), r.lockTTL)
	if err != nil {
		logger.Warn("identity lock unavailable, continuing without it", zap.Error(err))
		return func() {}
	}
	return release
}
