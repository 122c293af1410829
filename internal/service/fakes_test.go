package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testStore struct {
	db            *gorm.DB
	subscriptions *repository.GormSubscriptionRepo
	pending       *repository.GormPendingRepo
	notifications *repository.GormNotificationRepo
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&repository.SubscriptionModel{},
		&repository.PendingNotificationModel{},
		&repository.NotificationModel{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Dispatch fan-out writes from several goroutines; sqlite wants a single writer.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return &testStore{
		db:            db,
		subscriptions: repository.NewGormSubscriptionRepo(db),
		pending:       repository.NewGormPendingRepo(db),
		notifications: repository.NewGormNotificationRepo(db),
	}
}

func (s *testStore) subscribe(t *testing.T, userID, endpoint string) domain.Subscription {
	t.Helper()

	sub := testSubscription(userID, endpoint)
	require.NoError(t, s.subscriptions.Upsert(context.Background(), &sub))
	return sub
}

func (s *testStore) pendingFor(t *testing.T, userID string) []domain.PendingNotification {
	t.Helper()

	pending, err := s.pending.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return pending
}

func (s *testStore) inboxOf(t *testing.T, userID string) []domain.Notification {
	t.Helper()

	list, err := s.notifications.ListByUser(context.Background(), userID, repository.InboxLimit)
	require.NoError(t, err)
	return list
}

func testSubscription(userID, endpoint string) domain.Subscription {
	return domain.Subscription{
		UserID:   userID,
		Endpoint: endpoint,
		Keys:     domain.Keys{P256dh: "BPublicKey-" + userID, Auth: "auth-" + userID},
	}
}

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var gone = &provider.SendError{Kind: provider.KindGone, StatusCode: 410, Detail: "Gone"}

type sendCall struct {
	Subscription domain.Subscription
	Payload      domain.Payload
}

type fakeSender struct {
	mu        sync.Mutex
	calls     []sendCall
	deliverFn func(ctx context.Context, sub domain.Subscription, payload domain.Payload) error
}

func (f *fakeSender) Deliver(ctx context.Context, sub domain.Subscription, payload domain.Payload) error {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{Subscription: sub, Payload: payload})
	f.mu.Unlock()

	if f.deliverFn != nil {
		return f.deliverFn(ctx, sub, payload)
	}
	return nil
}

func (f *fakeSender) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type fakeProvider struct {
	sendFn func(ctx context.Context, sub domain.Subscription, payload []byte) (*provider.Receipt, error)
}

func (f *fakeProvider) Send(ctx context.Context, sub domain.Subscription, payload []byte) (*provider.Receipt, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, sub, payload)
	}
	return &provider.Receipt{StatusCode: 201}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeLocker struct {
	mu        sync.Mutex
	acquired  []string
	released  int
	acquireFn func(ctx context.Context, key string, ttl time.Duration) error
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.acquireFn != nil {
		if err := f.acquireFn(ctx, key, ttl); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.acquired = append(f.acquired, key)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, msg queue.DispatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}
