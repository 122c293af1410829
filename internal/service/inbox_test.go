package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestInbox(t *testing.T, store *testStore) *Inbox {
	t.Helper()

	inbox, err := NewInbox(store.notifications, zap.NewNop())
	require.NoError(t, err)
	return inbox
}

func TestInboxSaveAppliesDefaults(t *testing.T) {
	t.Parallel()

	inbox := newTestInbox(t, newTestStore(t))

	result, err := inbox.Save(context.Background(), SaveRequest{UserID: "ada@example.com", Title: "Welcome", Body: "Thanks for joining"})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotEmpty(t, result.Notification.ID)
	assert.Equal(t, domain.DefaultIcon, result.Notification.Icon)
	assert.Equal(t, domain.DefaultURL, result.Notification.Data.URL)
	assert.Regexp(t, `^notification-\d+-[0-9a-f]{9}$`, result.Notification.Tag)
	assert.False(t, result.Notification.Read)
}

func TestInboxSaveExistingTag(t *testing.T) {
	t.Parallel()

	inbox := newTestInbox(t, newTestStore(t))
	req := SaveRequest{UserID: "ada@example.com", Title: "Shipped", Body: "Order 42", Tag: "order-42"}

	first, err := inbox.Save(context.Background(), req)
	require.NoError(t, err)
	second, err := inbox.Save(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Notification.ID, second.Notification.ID)
}

func TestInboxSaveValidation(t *testing.T) {
	t.Parallel()

	inbox := newTestInbox(t, newTestStore(t))

	for _, req := range []SaveRequest{
		{Title: "t", Body: "b"},
		{UserID: "ada@example.com", Body: "b"},
		{UserID: "ada@example.com", Title: "t"},
	} {
		_, err := inbox.Save(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestInboxReadStateAndDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	inbox := newTestInbox(t, store)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	var ids []string
	for i, title := range []string{"older", "newer"} {
		now := base.Add(time.Duration(i) * time.Minute)
		inbox.now = func() time.Time { return now }
		result, err := inbox.Save(ctx, SaveRequest{UserID: "ada@example.com", Title: title, Body: "b"})
		require.NoError(t, err)
		ids = append(ids, result.Notification.ID)
	}

	list, err := inbox.List(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Title)

	require.NoError(t, inbox.MarkRead(ctx, "ada@example.com", ids[0], true))
	list, err = inbox.List(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, list[1].Read)
	assert.NotNil(t, list[1].ReadAt)

	require.NoError(t, inbox.MarkRead(ctx, "ada@example.com", ids[0], false))
	list, err = inbox.List(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, list[1].Read)
	assert.Nil(t, list[1].ReadAt)

	updated, err := inbox.MarkAllRead(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	require.ErrorIs(t, inbox.MarkRead(ctx, "bob@example.com", ids[0], true), domain.ErrNotFound)
	require.ErrorIs(t, inbox.Delete(ctx, "bob@example.com", ids[0]), domain.ErrNotFound)

	require.NoError(t, inbox.Delete(ctx, "ada@example.com", ids[0]))
	require.ErrorIs(t, inbox.Delete(ctx, "ada@example.com", ids[0]), domain.ErrNotFound)

	_, err = inbox.List(ctx, " ")
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, inbox.MarkRead(ctx, "ada@example.com", "", true), domain.ErrValidation)
}
