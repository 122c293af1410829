package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// InboxLimit caps how many notifications a listing returns.
const InboxLimit = 100

// SubscriptionRepository stores the single live push subscription per user identity.
type SubscriptionRepository interface {
	// Upsert replaces the record of sub.UserID atomically and refreshes sub from storage.
	Upsert(ctx context.Context, sub *domain.Subscription) error
	GetByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	// Find returns the records of userID, or every record when userID is empty.
	Find(ctx context.Context, userID string) ([]domain.Subscription, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// PendingRepository queues payloads for users without a reachable subscription.
type PendingRepository interface {
	Enqueue(ctx context.Context, p *domain.PendingNotification) error
	// ListByUser returns pending payloads oldest first.
	ListByUser(ctx context.Context, userID string) ([]domain.PendingNotification, error)
	// ListUsers returns up to limit distinct identities with pending payloads, in ascending
	// order and strictly after the given identity. An empty after starts from the beginning.
	ListUsers(ctx context.Context, after string, limit int) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// NotificationRepository stores the user-visible inbox.
type NotificationRepository interface {
	// CreateIfAbsent inserts n unless (UserID, Tag) already exists. n is refreshed either way.
	CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string, read bool, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

func clampLimit(limit int) int {
	if limit < 1 || limit > InboxLimit {
		return InboxLimit
	}
	return limit
}

var (
	_ SubscriptionRepository = (*GormSubscriptionRepo)(nil)
	_ SubscriptionRepository = (*MongoSubscriptionRepo)(nil)
	_ PendingRepository      = (*GormPendingRepo)(nil)
	_ PendingRepository      = (*MongoPendingRepo)(nil)
	_ NotificationRepository = (*GormNotificationRepo)(nil)
	_ NotificationRepository = (*MongoNotificationRepo)(nil)
)
