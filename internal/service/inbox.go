package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

// Inbox serves the user-visible notification list.
type Inbox struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	now           func() time.Time
	newTag        func(now time.Time) string
}

func NewInbox(notifications repository.NotificationRepository, logger *zap.Logger) (*Inbox, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Inbox{
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
		newTag:        NewDeliveryTag,
	}, nil
}

// SaveRequest describes a notification stored without being pushed.
type SaveRequest struct {
	UserID string
	Title  string
	Body   string
	Icon   string
	URL    string
	Tag    string
}

type SaveResult struct {
	Notification domain.Notification
	// Created is false when a notification with the same tag already existed for the user.
	Created bool
}

// List returns the newest notifications of userID, at most repository.InboxLimit.
func (i *Inbox) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return i.notifications.ListByUser(ctx, userID, repository.InboxLimit)
}

// MarkRead sets the read flag of one notification; readAt follows the flag.
func (i *Inbox) MarkRead(ctx context.Context, userID, id string, read bool) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notificationId is required", domain.ErrValidation)
	}

	matched, err := i.notifications.MarkRead(ctx, userID, strings.TrimSpace(id), read, i.now().UTC())
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
	}
	return nil
}

func (i *Inbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return 0, err
	}
	return i.notifications.MarkAllRead(ctx, userID, i.now().UTC())
}

func (i *Inbox) Delete(ctx context.Context, userID, id string) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notificationId is required", domain.ErrValidation)
	}

	removed, err := i.notifications.Delete(ctx, userID, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
	}
	return nil
}

// Save stores a notification for the inbox only. A repeated tag returns the existing record.
func (i *Inbox) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	now := i.now().UTC()

	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = i.newTag(now)
	}
	icon := strings.TrimSpace(req.Icon)
	if icon == "" {
		icon = domain.DefaultIcon
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		url = domain.DefaultURL
	}

	n := domain.Notification{
		UserID:    strings.TrimSpace(req.UserID),
		Title:     req.Title,
		Body:      req.Body,
		Icon:      icon,
		Data:      domain.NotificationData{URL: url, Tag: tag},
		Tag:       tag,
		CreatedAt: now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	created, err := i.notifications.CreateIfAbsent(ctx, &n)
	if err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	if !created {
		i.logger.Debug("notification already stored", zap.String("userId", n.UserID), zap.String("tag", tag))
	}

	return &SaveResult{Notification: n, Created: created}, nil
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	return userID, nil
}
