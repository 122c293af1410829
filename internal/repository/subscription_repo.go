package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	model := subscriptionModelFromDomain(sub)
	model.ID = uuid.NewString()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "endpoint", "p256dh", "auth", "user_agent", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	stored, err := r.GetByUser(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("failed to reload subscription: %w", err)
	}
	*sub = *stored
	return nil
}

func (r *GormSubscriptionRepo) GetByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) Find(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := r.db.WithContext(ctx).Model(&SubscriptionModel{})
	if userID = strings.TrimSpace(userID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var models []SubscriptionModel
	if err := query.Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subs = append(subs, *subscriptionModelToDomain(&models[i]))
	}
	return subs, nil
}

func (r *GormSubscriptionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid subscription id", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).Delete(&SubscriptionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID, endpoint string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&SubscriptionModel{})
	return result.RowsAffected, result.Error
}

func (r *GormSubscriptionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&SubscriptionModel{})
	return result.RowsAffected, result.Error
}
