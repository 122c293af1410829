package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/gorm"
)

type GormPendingRepo struct {
	db *gorm.DB
}

func NewGormPendingRepo(db *gorm.DB) *GormPendingRepo {
	return &GormPendingRepo{db: db}
}

func (r *GormPendingRepo) Enqueue(ctx context.Context, p *domain.PendingNotification) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: pending notification needs a user", domain.ErrValidation)
	}

	model := pendingModelFromDomain(p)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*p = *pendingModelToDomain(model)
	return nil
}

func (r *GormPendingRepo) ListByUser(ctx context.Context, userID string) ([]domain.PendingNotification, error) {
	var models []PendingNotificationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	pending := make([]domain.PendingNotification, 0, len(models))
	for i := range models {
		pending = append(pending, *pendingModelToDomain(&models[i]))
	}
	return pending, nil
}

func (r *GormPendingRepo) ListUsers(ctx context.Context, after string, limit int) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&PendingNotificationModel{})
	if after != "" {
		query = query.Where("user_id > ?", after)
	}

	var userIDs []string
	err := query.
		Distinct("user_id").
		Order("user_id ASC").
		Limit(clampLimit(limit)).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *GormPendingRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid pending notification id", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).Delete(&PendingNotificationModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
