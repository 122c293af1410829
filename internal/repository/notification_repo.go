package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if err := n.Validate(); err != nil {
		return false, err
	}

	model := notificationModelFromDomain(n)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "tag"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}

	if result.RowsAffected == 0 {
		var existing NotificationModel
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND tag = ?", n.UserID, n.Tag).
			First(&existing).Error
		if err != nil {
			return false, fmt.Errorf("failed to load existing notification: %w", err)
		}
		*n = *notificationModelToDomain(&existing)
		return false, nil
	}

	*n = *notificationModelToDomain(model)
	return true, nil
}

func (r *GormNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, userID, id string, read bool, at time.Time) (bool, error) {
	if err := validateNotificationID(id); err != nil {
		return false, err
	}

	var readAt *time.Time
	if read {
		readAt = &at
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"read":    read,
			"read_at": readAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{
			"read":    true,
			"read_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *GormNotificationRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := validateNotificationID(id); err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func validateNotificationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid notification id", domain.ErrValidation)
	}
	return nil
}
