package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchConcurrency = 16

// ErrAsyncDispatchUnavailable is returned by Enqueue when no broker is configured.
var ErrAsyncDispatchUnavailable = errors.New("async dispatch is not configured")

type DispatchRequest struct {
	Title  string
	Body   string
	Target string
	Tag    string
	URL    string
}

func (r DispatchRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: title and message are required", domain.ErrValidation)
	}
	return nil
}

type DispatchResult struct {
	Sent   int
	Failed int
	Total  int
	Tag    string
	// Pending is set when the target had no subscription and the payload was parked instead.
	Pending bool
}

// Dispatcher fans one payload out to every subscription of a target and settles each outcome independently.
type Dispatcher struct {
	subscriptions repository.SubscriptionRepository
	pending       repository.PendingRepository
	notifications repository.NotificationRepository
	sender        Sender
	publisher     queue.Publisher
	concurrency   int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newTag        func(now time.Time) string
}

func NewDispatcher(
	subscriptions repository.SubscriptionRepository,
	pending repository.PendingRepository,
	notifications repository.NotificationRepository,
	sender Sender,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if subscriptions == nil || pending == nil || notifications == nil {
		return nil, fmt.Errorf("subscription, pending and notification repositories are required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if concurrency < 1 {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		subscriptions: subscriptions,
		pending:       pending,
		notifications: notifications,
		sender:        sender,
		concurrency:   concurrency,
		logger:        logger,
		now:           time.Now,
		newTag:        NewDeliveryTag,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetPublisher enables Enqueue.
func (d *Dispatcher) SetPublisher(publisher queue.Publisher) {
	if d == nil {
		return
	}
	d.publisher = publisher
}

// Dispatch sends req to its target. A named user without subscriptions gets the payload parked
// as pending; an "all" dispatch without subscriptions fails with domain.ErrNoSubscriptions.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	userID := domain.NormalizeTarget(req.Target)
	logger := observability.WithContextLogger(d.logger, ctx)

	found, err := d.subscriptions.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriptions: %w", err)
	}
	targets := d.deliverable(ctx, logger, found)

	now := d.now()
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = d.newTag(now)
	}
	payload := domain.NewPayload(req.Title, req.Body, req.URL, tag, now)

	if len(targets) == 0 {
		if userID == "" {
			return nil, domain.ErrNoSubscriptions
		}

		if err := d.pending.Enqueue(ctx, &domain.PendingNotification{
			UserID:    userID,
			Payload:   payload,
			CreatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("failed to park notification: %w", err)
		}
		d.metrics.IncPendingEnqueued("no_subscription")
		logger.Info("user offline, notification parked", zap.String("userId", userID), zap.String("tag", tag))

		return &DispatchResult{Failed: 1, Tag: tag, Pending: true}, nil
	}

	delivered := make([]bool, len(targets))

	// Workers never return an error so one failed delivery cannot cancel the rest.
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, sub := range targets {
		i, sub := i, sub
		g.Go(func() error {
			delivered[i] = d.deliverOne(ctx, logger, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	result := &DispatchResult{Total: len(targets), Tag: tag}
	for _, ok := range delivered {
		if ok {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	logger.Info("notification dispatched",
		zap.String("target", req.Target),
		zap.String("tag", tag),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// deliverable drops records that cannot be encrypted to and deletes them from storage.
func (d *Dispatcher) deliverable(ctx context.Context, logger *zap.Logger, subs []domain.Subscription) []domain.Subscription {
	valid := make([]domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.IsDeliverable() {
			valid = append(valid, sub)
			continue
		}

		logger.Warn("removing malformed subscription", zap.String("userId", sub.UserID), zap.String("id", sub.ID))
		if err := d.subscriptions.DeleteByID(ctx, sub.ID); err != nil {
			logger.Error("failed to remove malformed subscription", zap.String("id", sub.ID), zap.Error(err))
			continue
		}
		d.metrics.AddSubscriptionsRemoved("invalid", 1)
	}
	return valid
}

func (d *Dispatcher) deliverOne(ctx context.Context, logger *zap.Logger, sub domain.Subscription, payload domain.Payload) bool {
	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	logger = logger.With(zap.String("userId", sub.UserID))

	err := d.sender.Deliver(ctx, sub, payload)
	if err == nil {
		d.saveInbox(ctx, logger, sub.UserID, payload)
		return true
	}

	if provider.IsGone(err) {
		// Match on the endpoint: a re-registration during the fan-out keeps the row id.
		removed, delErr := d.subscriptions.DeleteByEndpoint(ctx, sub.UserID, sub.Endpoint)
		if delErr != nil {
			logger.Error("failed to remove gone subscription", zap.Error(delErr))
		} else if removed > 0 {
			d.metrics.AddSubscriptionsRemoved("gone", removed)
		}
		return false
	}

	if enqErr := d.pending.Enqueue(ctx, &domain.PendingNotification{
		UserID:    sub.UserID,
		Payload:   payload,
		CreatedAt: d.now(),
	}); enqErr != nil {
		logger.Error("failed to park undelivered notification", zap.Error(enqErr))
	} else {
		d.metrics.IncPendingEnqueued("delivery_failed")
	}
	d.saveInbox(ctx, logger, sub.UserID, payload)
	return false
}

// saveInbox is best effort; the delivery outcome does not depend on it.
func (d *Dispatcher) saveInbox(ctx context.Context, logger *zap.Logger, userID string, payload domain.Payload) {
	n := domain.NotificationFromPayload(userID, payload, d.now())
	if _, err := d.notifications.CreateIfAbsent(ctx, &n); err != nil {
		logger.Error("failed to save inbox notification", zap.String("tag", payload.Tag), zap.Error(err))
	}
}

// Enqueue publishes req for the dispatch worker and returns the job id.
func (d *Dispatcher) Enqueue(ctx context.Context, req DispatchRequest, requestedBy string) (string, error) {
	if d.publisher == nil {
		return "", ErrAsyncDispatchUnavailable
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		target = domain.TargetAll
	}

	msg := queue.DispatchMessage{
		JobID:       uuid.NewString(),
		Title:       req.Title,
		Body:        req.Body,
		Target:      target,
		Tag:         req.Tag,
		URL:         req.URL,
		RequestedBy: requestedBy,
		RequestedAt: d.now().UTC(),
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := d.publisher.Publish(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	observability.WithContextLogger(d.logger, ctx).Info("dispatch queued",
		zap.String("jobId", msg.JobID),
		zap.String("target", target),
	)
	return msg.JobID, nil
}

// NewDeliveryTag returns a tag unique per notification, so browsers never collapse two of them.
func NewDeliveryTag(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("notification-%d-%s", now.UnixMilli(), suffix)
}
