package repository

import (
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// SubscriptionModel is the persistence model for the push_subscriptions table.
type SubscriptionModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:varchar(255);not null;uniqueIndex:idx_push_subscriptions_user_id"`
	Username  string `gorm:"type:varchar(255)"`
	Endpoint  string `gorm:"type:text;not null"`
	P256dh    string `gorm:"column:p256dh;type:varchar(255);not null"`
	Auth      string `gorm:"type:varchar(255);not null"`
	UserAgent string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SubscriptionModel) TableName() string {
	return "push_subscriptions"
}

// PendingNotificationModel is the persistence model for pending_notifications.
type PendingNotificationModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	UserID    string         `gorm:"type:varchar(255);not null;index:idx_pending_notifications_user_created,priority:1"`
	Payload   domain.Payload `gorm:"type:text;serializer:json;not null"`
	CreatedAt time.Time      `gorm:"index:idx_pending_notifications_user_created,priority:2"`
}

func (PendingNotificationModel) TableName() string {
	return "pending_notifications"
}

// NotificationModel is the persistence model for the notifications inbox table.
type NotificationModel struct {
	ID        string                  `gorm:"type:uuid;primaryKey"`
	UserID    string                  `gorm:"type:varchar(255);not null;uniqueIndex:idx_notifications_user_tag,priority:1"`
	Title     string                  `gorm:"type:text;not null"`
	Body      string                  `gorm:"type:text;not null"`
	Icon      string                  `gorm:"type:varchar(255)"`
	Data      domain.NotificationData `gorm:"type:text;serializer:json"`
	Tag       string                  `gorm:"type:varchar(255);not null;uniqueIndex:idx_notifications_user_tag,priority:2"`
	Read      bool                    `gorm:"not null;default:false"`
	CreatedAt time.Time
	ReadAt    *time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:        s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
		Endpoint:  s.Endpoint,
		P256dh:    s.Keys.P256dh,
		Auth:      s.Keys.Auth,
		UserAgent: s.UserAgent,
		UpdatedAt: s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Endpoint:  m.Endpoint,
		Keys:      domain.Keys{P256dh: m.P256dh, Auth: m.Auth},
		UserAgent: m.UserAgent,
		UpdatedAt: m.UpdatedAt,
	}
}

func pendingModelFromDomain(p *domain.PendingNotification) *PendingNotificationModel {
	if p == nil {
		return nil
	}

	return &PendingNotificationModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Payload:   p.Payload,
		CreatedAt: p.CreatedAt,
	}
}

func pendingModelToDomain(m *PendingNotificationModel) *domain.PendingNotification {
	if m == nil {
		return nil
	}

	return &domain.PendingNotification{
		ID:        m.ID,
		UserID:    m.UserID,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Body:      n.Body,
		Icon:      n.Icon,
		Data:      n.Data,
		Tag:       n.Tag,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Body:      m.Body,
		Icon:      m.Icon,
		Data:      m.Data,
		Tag:       m.Tag,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		ReadAt:    m.ReadAt,
	}
}
